// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_stt

import (
	"bufio"
	"os"
	"strings"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

// LoadPhraseHints merges inline comma-separated phrases with the lines of an
// optional hint file. Blank lines and '#' comments are skipped; duplicates
// are removed with the first occurrence's position kept.
func LoadPhraseHints(inline string, path string, logger commons.Logger) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, p := range strings.Split(inline, ",") {
		add(p)
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			logger.Warnw("stt: phrase hint file unreadable", "path", path, "error", err)
		} else {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				add(scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				logger.Warnw("stt: phrase hint file read failed", "path", path, "error", err)
			}
		}
	}

	if len(out) > 0 {
		logger.Infow("stt: loaded phrase hints", "count", len(out))
	}
	return out
}
