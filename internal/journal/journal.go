// Package journal ships a record of every generation request to an
// Arrow Flight endpoint.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DescriptorPath names the Flight stream entries are written to.
const DescriptorPath = "generations"

var (
	ErrNotConnected = errors.New("journal: client not connected, call Connect() first")
	ErrClosed       = errors.New("journal: closed")
)

// Entry describes one Respond call. Prompt text itself is never journaled.
type Entry struct {
	Time          time.Time
	Model         string
	PromptBytes   int
	ResponseBytes int
	Duration      time.Duration
	Result        string
}

type Journal interface {
	Record(ctx context.Context, e Entry) error
	Flush(ctx context.Context) error
	Close() error
}

// Schema is the Arrow layout of a generations batch.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "time", Type: arrow.FixedWidthTypes.Timestamp_us},
	{Name: "model", Type: arrow.BinaryTypes.String},
	{Name: "prompt_bytes", Type: arrow.PrimitiveTypes.Int64},
	{Name: "response_bytes", Type: arrow.PrimitiveTypes.Int64},
	{Name: "duration_us", Type: arrow.PrimitiveTypes.Int64},
	{Name: "result", Type: arrow.BinaryTypes.String},
}, nil)

// BuildRecord converts entries into a single record batch. The caller
// releases the result.
func BuildRecord(mem memory.Allocator, entries []Entry) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	ts := b.Field(0).(*array.TimestampBuilder)
	model := b.Field(1).(*array.StringBuilder)
	prompt := b.Field(2).(*array.Int64Builder)
	resp := b.Field(3).(*array.Int64Builder)
	dur := b.Field(4).(*array.Int64Builder)
	result := b.Field(5).(*array.StringBuilder)

	for _, e := range entries {
		ts.Append(arrow.Timestamp(e.Time.UnixMicro()))
		model.Append(e.Model)
		prompt.Append(int64(e.PromptBytes))
		resp.Append(int64(e.ResponseBytes))
		dur.Append(e.Duration.Microseconds())
		result.Append(e.Result)
	}
	return b.NewRecord()
}
