// Package queue carries job descriptors between the publisher and the worker
// loop. A runner owns exactly one queue, named after the runner id.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Marker is the body of every job message. Messages with any other body are
// foreign traffic and are never parsed as jobs.
const Marker = "execution"

// Attribute names carried on a job message.
const (
	AttrRunner         = "Runner"
	AttrBatch          = "Batch"
	AttrCommand        = "Command"
	AttrPreProcessing  = "PreProcessing"
	AttrPostProcessing = "PostProcessing"
	AttrStore          = "Store"
)

// PatternSeparator joins store patterns inside the Store attribute.
const PatternSeparator = "|"

// ErrMalformedJob is returned when a marker message lacks a required attribute.
var ErrMalformedJob = errors.New("malformed job message")

// Job is one command invocation against one batch.
type Job struct {
	Runner         string
	Batch          string
	Command        string
	PreProcessing  string
	PostProcessing string
	StorePatterns  []string
}

// Attributes renders the job as message attributes. Optional fields are left
// out entirely when empty so a consumer can test for presence.
func (j Job) Attributes() map[string]string {
	attrs := map[string]string{
		AttrRunner:  j.Runner,
		AttrBatch:   j.Batch,
		AttrCommand: j.Command,
	}
	if j.PreProcessing != "" {
		attrs[AttrPreProcessing] = j.PreProcessing
	}
	if j.PostProcessing != "" {
		attrs[AttrPostProcessing] = j.PostProcessing
	}
	if len(j.StorePatterns) > 0 {
		attrs[AttrStore] = strings.Join(j.StorePatterns, PatternSeparator)
	}
	return attrs
}

// JobFromAttributes is the inverse of Attributes.
func JobFromAttributes(attrs map[string]string) (Job, error) {
	job := Job{
		Runner:         attrs[AttrRunner],
		Batch:          attrs[AttrBatch],
		Command:        attrs[AttrCommand],
		PreProcessing:  attrs[AttrPreProcessing],
		PostProcessing: attrs[AttrPostProcessing],
	}
	for _, name := range []string{AttrRunner, AttrBatch, AttrCommand} {
		if strings.TrimSpace(attrs[name]) == "" {
			return Job{}, fmt.Errorf("%w: missing %s", ErrMalformedJob, name)
		}
	}
	if raw, ok := attrs[AttrStore]; ok && raw != "" {
		for _, p := range strings.Split(raw, PatternSeparator) {
			if p != "" {
				job.StorePatterns = append(job.StorePatterns, p)
			}
		}
	}
	return job, nil
}

// Message is the envelope stored by a broker.
type Message struct {
	ID         string            `json:"id"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

func encodeMessage(m Message) (string, error) {
	return sonic.MarshalString(m)
}

func decodeMessage(raw string) (Message, error) {
	var m Message
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
