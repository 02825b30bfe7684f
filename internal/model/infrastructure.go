package model

// ClientProfile describes a simulated client population member.
type ClientProfile struct {
	Name         string    `json:"name" yaml:"name"`
	Target       []float64 `json:"target" yaml:"target"`
	TrainSize    int       `json:"trainSize" yaml:"train_size"`
	LearningRate float64   `json:"learningRate" yaml:"learning_rate"`
	Noise        float64   `json:"noise" yaml:"noise"`
	Fail         bool      `json:"fail,omitempty" yaml:"fail,omitempty"`
}
