// Package ensemble runs the registered feature extractors over a frame batch
// and combines their vectors with a configured weight map.
//
// Extractors sit behind the single-method Extractor capability, so new models
// plug in through the registry without touching the combiner. Inference can
// be serialized per accelerator device through Gate. The built-in cnn and
// vision_language extractors are deterministic stand-ins that derive vectors
// from pooled pixel statistics; they make identical frames produce identical
// vectors, which is what the embedding cache relies on.
package ensemble
