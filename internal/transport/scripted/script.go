package scripted

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/nfrund/brokerlink/internal/transport"
)

// LoadScript reads inbound envelopes from path. The file holds either a JSON
// array of envelopes or one envelope per line; blank lines are skipped.
func LoadScript(fs afero.Fs, path string) ([]transport.Envelope, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var frames []json.RawMessage
		if err := json.Unmarshal(trimmed, &frames); err != nil {
			return nil, fmt.Errorf("parse script %s: %w", path, err)
		}
		envs := make([]transport.Envelope, 0, len(frames))
		for i, frame := range frames {
			env, err := transport.DecodeEnvelope(frame)
			if err != nil {
				return nil, fmt.Errorf("script %s entry %d: %w", path, i, err)
			}
			envs = append(envs, env)
		}
		return envs, nil
	}

	var envs []transport.Envelope
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		env, err := transport.DecodeEnvelope(text)
		if err != nil {
			return nil, fmt.Errorf("script %s line %d: %w", path, line, err)
		}
		envs = append(envs, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	return envs, nil
}
