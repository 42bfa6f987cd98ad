package queue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAttributesOmitAbsentOptionalFields(t *testing.T) {
	attrs := Job{Runner: "r1", Batch: "b1", Command: "./aeolis.sh a/b.txt"}.Attributes()

	assert.Equal(t, map[string]string{
		AttrRunner:  "r1",
		AttrBatch:   "b1",
		AttrCommand: "./aeolis.sh a/b.txt",
	}, attrs)
	_, ok := attrs[AttrStore]
	assert.False(t, ok)
}

func TestAttributesJoinStorePatterns(t *testing.T) {
	attrs := Job{
		Runner:         "r1",
		Batch:          "b1",
		Command:        "model x",
		PreProcessing:  "source env.sh",
		PostProcessing: "gzip out",
		StorePatterns:  []string{`\.nc$`, `\.csv$`},
	}.Attributes()

	assert.Equal(t, `\.nc$|\.csv$`, attrs[AttrStore])
	assert.Equal(t, "source env.sh", attrs[AttrPreProcessing])
	assert.Equal(t, "gzip out", attrs[AttrPostProcessing])
}

func TestJobFromAttributesRequiresCoreFields(t *testing.T) {
	for _, missing := range []string{AttrRunner, AttrBatch, AttrCommand} {
		attrs := Job{Runner: "r", Batch: "b", Command: "c"}.Attributes()
		delete(attrs, missing)

		_, err := JobFromAttributes(attrs)
		require.ErrorIs(t, err, ErrMalformedJob, missing)
		assert.Contains(t, err.Error(), missing)
	}
}

func TestJobAttributesRoundTrip(t *testing.T) {
	field := rapid.StringMatching(`[a-z0-9 ./{}_-]{1,20}`)
	optional := rapid.StringMatching(`[a-z0-9 ./_-]{0,20}`)
	pattern := rapid.StringMatching(`\\\.[a-z]{1,4}\$`)

	rapid.Check(t, func(t *rapid.T) {
		job := Job{
			Runner:         field.Draw(t, "runner"),
			Batch:          field.Draw(t, "batch"),
			Command:        field.Draw(t, "command"),
			PreProcessing:  optional.Draw(t, "pre"),
			PostProcessing: optional.Draw(t, "post"),
			StorePatterns:  rapid.SliceOfN(pattern, 0, 4).Draw(t, "store"),
		}
		if strings.TrimSpace(job.Runner) == "" || strings.TrimSpace(job.Batch) == "" || strings.TrimSpace(job.Command) == "" {
			t.Skip("blank required field")
		}
		if len(job.StorePatterns) == 0 {
			job.StorePatterns = nil
		}

		got, err := JobFromAttributes(job.Attributes())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		assert.Equal(t, job, got)
	})
}

func TestMessageEnvelopeCodec(t *testing.T) {
	msg := Message{ID: "m1", Body: Marker, Attributes: map[string]string{AttrRunner: "r1"}}
	raw, err := encodeMessage(msg)
	require.NoError(t, err)
	assert.Contains(t, raw, `"body":"execution"`)

	got, err := decodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg.Attributes, got.Attributes)

	_, err = decodeMessage("not json")
	assert.Error(t, err)
}
