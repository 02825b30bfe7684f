package server

import (
	"encoding/json"
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/flclient/sim"
	"github.com/AIoTwin-Adaptive-FL-Orch/gcfl-orchestrator/internal/florch/flconfig"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	return d.Decode(i)
}

// StartFlRequest starts a run over a simulated population. Omitted fields
// keep their defaults.
type StartFlRequest struct {
	Configuration flconfig.FlConfiguration `json:"configuration"`
	Population    sim.PopulationConfig     `json:"population"`
	Seed          int64                    `json:"seed"`
}

func newStartFlRequest() *StartFlRequest {
	return &StartFlRequest{
		Configuration: *flconfig.Default(),
		Population:    sim.DefaultPopulationConfig(),
		Seed:          1,
	}
}

type StartFlResponse struct {
	RunId string `json:"runId"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
