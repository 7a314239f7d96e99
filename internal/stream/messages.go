package stream

import (
	"context"

	"github.com/star/stageflight/internal/groundtrack"
	"github.com/star/stageflight/internal/trajectory"
)

// Stream message payload types. Every message carries a "type" field.

type metadataMessage struct {
	Type         string          `json:"type"`
	Label        string          `json:"label,omitempty"`
	Mode         trajectory.Mode `json:"mode"`
	Stages       int             `json:"stages"`
	LaunchMass   float64         `json:"launch_mass"`
	BurnTime     float64         `json:"burn_time"`
	Experimental bool            `json:"experimental"`
	SampleEvery  int             `json:"sample_every"`
	Speed        float64         `json:"speed"`
}

type sampleMessage struct {
	Type string `json:"type"`
	trajectory.State
	Range  float64  `json:"range"`
	LatDeg *float64 `json:"lat_deg,omitempty"`
	LonDeg *float64 `json:"lon_deg,omitempty"`
}

type burnoutMessage struct {
	Type string `json:"type"`
	trajectory.StageBurnout
}

type summaryMessage struct {
	Type string `json:"type"`
	*trajectory.Result
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// simTime returns the simulation time a message describes.
func simTime(m any) (float64, bool) {
	switch m := m.(type) {
	case sampleMessage:
		return m.Time, true
	case burnoutMessage:
		return m.Time, true
	}
	return 0, false
}

// forwarder is a trajectory.StepObserver that turns run events into stream
// messages. It forwards every Nth sample plus the final one, each burnout
// and the summary. Once ctx is done it drops messages so the run can finish
// without a reader.
type forwarder struct {
	ctx    context.Context
	out    chan<- any
	every  int
	placer *groundtrack.Placer

	n        int
	last     trajectory.State
	lastSent bool
}

func (f *forwarder) OnStep(s trajectory.State) {
	f.last = s
	f.lastSent = f.n%f.every == 0
	if f.lastSent {
		f.push(f.sample(s))
	}
	f.n++
}

func (f *forwarder) OnStageBurnout(b trajectory.StageBurnout) {
	f.push(burnoutMessage{Type: "burnout", StageBurnout: b})
}

func (f *forwarder) OnComplete(res *trajectory.Result) {
	if f.n > 0 && !f.lastSent {
		f.push(f.sample(f.last))
	}
	summary := *res
	summary.States = nil
	f.push(summaryMessage{Type: "summary", Result: &summary})
}

func (f *forwarder) sample(s trajectory.State) sampleMessage {
	m := sampleMessage{Type: "sample", State: s, Range: s.Range()}
	if f.placer != nil {
		p := f.placer.Place(s)
		m.LatDeg, m.LonDeg = &p.LatDeg, &p.LonDeg
	}
	return m
}

func (f *forwarder) push(m any) bool {
	select {
	case f.out <- m:
		return true
	case <-f.ctx.Done():
		return false
	}
}
