package domain

// Checkpoint is a configured day boundary with pass/fail criteria. When a day
// ends, every checkpoint matching that day is evaluated; failing any one ends
// the session as lost.
type Checkpoint struct {
	Day        int
	BossHealth int
	BossPower  int
}
