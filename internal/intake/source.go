package intake

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const maxLineBytes = 1 << 20

// Source yields raw request payloads. Next returns io.EOF when input is
// exhausted or the source is shutting down. ack, when non-nil, must be
// called once the payload has been handled.
type Source interface {
	Name() string
	Next(ctx context.Context) (data []byte, ack func(context.Context) error, err error)
}

// ErrPayloadTooLarge is returned by Next for a payload that exceeds the
// source's size limit. The payload has been discarded and the source stays
// usable.
var ErrPayloadTooLarge = errors.New("payload too large")

// JSONLSource reads one JSON request per line. Blank lines are skipped.
type JSONLSource struct {
	r    *bufio.Reader
	max  int
	line int
}

// NewJSONLSource reads from r.
func NewJSONLSource(r io.Reader) *JSONLSource {
	return &JSONLSource{r: bufio.NewReaderSize(r, 64*1024), max: maxLineBytes}
}

// Name implements Source.
func (s *JSONLSource) Name() string { return "jsonl" }

// Next implements Source. A line longer than the limit is skipped and
// reported as ErrPayloadTooLarge.
func (s *JSONLSource) Next(ctx context.Context) ([]byte, func(context.Context) error, error) {
	for {
		if ctx.Err() != nil {
			return nil, nil, io.EOF
		}
		raw, tooLong, err := s.readLine()
		if len(raw) == 0 && !tooLong && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, io.EOF
			}
			return nil, nil, fmt.Errorf("read line %d: %w", s.line+1, err)
		}
		s.line++
		if tooLong {
			return nil, nil, fmt.Errorf("line %d exceeds %d bytes: %w", s.line, s.max, ErrPayloadTooLarge)
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		return line, nil, nil
	}
}

// readLine returns the next line without its terminator. Once a line grows
// past the limit the rest of it is consumed and dropped.
func (s *JSONLSource) readLine() (line []byte, tooLong bool, err error) {
	for {
		var chunk []byte
		chunk, err = s.r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > s.max+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimSuffix(line, []byte("\n"))
		if len(line) > s.max {
			tooLong, line = true, nil
		}
		return line, tooLong, err
	}
}

// Run drains src, writing one JSON response per handled request to w.
// Malformed, oversized or invalid payloads are logged, counted and
// acknowledged so they are not redelivered. Run returns nil when src is exhausted.
func (s *Service) Run(ctx context.Context, src Source, w io.Writer) error {
	enc := json.NewEncoder(w)
	source := src.Name()
	var handled, rejected int

	for {
		data, ack, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.logger.Info(ctx, "intake finished", "source", source, "handled", handled, "rejected", rejected)
			return nil
		}
		if errors.Is(err, ErrPayloadTooLarge) {
			rejected++
			s.reject(ctx, source, outcomeMalformed, err)
			if err := s.ack(ctx, ack); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("intake %s: %w", source, err)
		}
		received := s.now()

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			rejected++
			s.reject(ctx, source, outcomeMalformed, err)
			if err := s.ack(ctx, ack); err != nil {
				return err
			}
			continue
		}
		req.ReceivedAt = received

		// A request already read finishes even when shutdown starts; each
		// action still has its own deadline.
		resp, err := s.Handle(context.WithoutCancel(ctx), source, &req)
		if err != nil {
			rejected++
			s.reject(ctx, source, outcomeInvalid, err)
			if err := s.ack(ctx, ack); err != nil {
				return err
			}
			continue
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response %s: %w", resp.ID, err)
		}
		handled++
		if err := s.ack(ctx, ack); err != nil {
			return err
		}
	}
}

func (s *Service) reject(ctx context.Context, source, outcome string, err error) {
	s.logger.Warn(ctx, "rejected request", "source", source, "reason", outcome, "err", err)
	if s.hooks.OnRequest != nil {
		s.hooks.OnRequest(source, outcome, 0)
	}
}

func (s *Service) ack(ctx context.Context, ack func(context.Context) error) error {
	if ack == nil {
		return nil
	}
	if err := ack(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("acknowledge request: %w", err)
	}
	return nil
}
