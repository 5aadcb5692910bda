package pipeline

// Stage is one step of batch verification. Every provider in a batch
// finishes a stage before the next stage starts.
type Stage string

const (
	StageParse   Stage = "parse"
	StageExtract Stage = "extract"
	StageQuery   Stage = "query"
	StageVerify  Stage = "verify"
	StageScore   Stage = "score"
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageParse, StageExtract, StageQuery, StageVerify, StageScore}

var stageLabels = map[Stage]string{
	StageParse:   "Parsing upload",
	StageExtract: "Extracting provider data",
	StageQuery:   "Querying data sources",
	StageVerify:  "Running verification",
	StageScore:   "Generating confidence scores",
}

// Label returns the human-readable progress label.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// StageState marks the start or end of a stage.
type StageState string

const (
	StageStarted   StageState = "started"
	StageCompleted StageState = "completed"
)

// StageEvent reports batch progress to observers.
type StageEvent struct {
	BatchID   string     `json:"batch_id"`
	Stage     Stage      `json:"stage"`
	Label     string     `json:"label"`
	State     StageState `json:"state"`
	Processed int        `json:"processed"`
	Total     int        `json:"total"`
}

// Observer receives stage events. Observers are called from the goroutine
// running the batch, one event at a time.
type Observer func(StageEvent)
