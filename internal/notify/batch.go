package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"ixfnotify/internal/ixf"
	"ixfnotify/internal/proposal"
)

// Batch is the output of one import run: the notifications it queued and
// the feeds it failed to process. Files are YAML or JSON.
type Batch struct {
	Notifications []BatchNotification `yaml:"notifications"`
	Errors        []BatchError        `yaml:"errors"`
}

type BatchNotification struct {
	Type     ixf.Type       `yaml:"type"`
	Action   ixf.Action     `yaml:"action"`
	AC       bool           `yaml:"ac"`
	IX       bool           `yaml:"ix"`
	Net      bool           `yaml:"net"`
	Context  map[string]any `yaml:"context"`
	Instance ixf.Instance   `yaml:"instance"`
}

type BatchError struct {
	IXLan ixf.IXLan `yaml:"ixlan"`
	Error string    `yaml:"error"`
}

// LoadBatch reads a batch file. Unknown fields are rejected.
func LoadBatch(path string) (Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}
	return ParseBatch(raw)
}

func ParseBatch(raw []byte) (Batch, error) {
	var b Batch
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
		return Batch{}, fmt.Errorf("notify: parse batch: %w", err)
	}
	for i, n := range b.Notifications {
		if n.Type == "" {
			return Batch{}, fmt.Errorf("notify: batch notification %d: type is required", i)
		}
	}
	return b, nil
}

// Process queues every notification of b, sends the consolidated digests,
// and reports the source errors.
func (s *Service) Process(ctx context.Context, b Batch) error {
	var errs []error
	for i := range b.Notifications {
		bn := &b.Notifications[i]
		in := bn.Instance
		errs = append(errs, s.Queue(ctx, proposal.Notification{
			Instance: &in,
			Type:     bn.Type,
			Action:   bn.Action,
			AC:       bn.AC,
			IX:       bn.IX,
			Net:      bn.Net,
			Context:  bn.Context,
		}))
	}
	errs = append(errs, s.NotifyProposals(ctx))
	for _, e := range b.Errors {
		errs = append(errs, s.NotifyError(ctx, e.IXLan, e.Error))
	}
	return errors.Join(errs...)
}
