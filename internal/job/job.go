package job

// Job pairs a connection reason with the payload that was sent to the
// Minion for it. The Overlord's ConnectedRelays map holds these; a Job
// is destroyed on completion signal, Minion exit, or Minion shutdown.
type Job struct {
	Reason  Reason
	Payload Payload
}

// New constructs a Job with a fresh random job id.
func New(reason Reason, detail Detail) Job {
	return Job{
		Reason: reason,
		Payload: Payload{
			JobID:  NewJobID(),
			Detail: detail,
		},
	}
}

// MatchesID reports whether this job's payload carries the given job id.
func (j Job) MatchesID(id uint64) bool {
	return j.Payload.JobID == id
}
