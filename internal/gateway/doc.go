// Package gateway implements the conversational backend client.
// It provides the four request/response operations a session needs (saving the
// client record, transcription, chat replies and speech synthesis) over HTTP,
// with bounded concurrency, request statistics, and errors classified as network
// failures or empty responses. Calls are never retried.
package gateway
