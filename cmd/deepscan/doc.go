// Command deepscan is the command-line client for the deepscan daemon.
//
// It submits media for analysis, lists and inspects jobs, streams progress,
// fetches detection results, inspects the embedding cache, manages the
// configuration file, and can run the daemon in the foreground with
// `deepscan serve`.
package main
