// Package session implements the conversation orchestrator.
//
// An Orchestrator owns one session at a time: the debtor's details, the status
// and the transcript. StartSession saves the client record and plays the opening
// reply; each BeginCapture/EndCapture pair then records the debtor, transcribes the
// clip, fetches a reply from the backend, and synthesizes and plays it. Every
// failed step produces exactly one notification and a return to StatusIdle.
//
// Operations return after their state guard; the steps run on a goroutine owned
// by the orchestrator. Wait blocks until that goroutine is done.
package session
