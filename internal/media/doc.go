// Package media turns a media reference into a lazy, forward-only sequence
// of normalized frame batches.
//
// Two kinds of reference are accepted: a video file in one of the configured
// container formats, decoded by streaming raw RGB frames out of ffmpeg, and a
// directory of PNG/JPEG frames read in lexical order. Either way frames are
// resized to the configured geometry and normalized with the ImageNet
// mean/std into CHW float32 tensors. Streams never hold more than one batch
// plus one look-ahead frame in memory and stop at the max-frame guard.
package media
