package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gabe/crew/internal/models"
	"github.com/sethvargo/go-retry"
)

type fileInspector struct {
	baseDir string
}

func (p fileInspector) exists(ctx context.Context, c models.CompletionCriterion) models.Check {
	check := models.Check{Name: checkName(c)}
	info, err := os.Stat(resolve(p.baseDir, c.Target))
	if err != nil {
		check.Message = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d bytes", info.Size())
	return check
}

func (p fileInspector) contains(ctx context.Context, c models.CompletionCriterion) models.Check {
	check := models.Check{Name: checkName(c)}
	data, err := os.ReadFile(resolve(p.baseDir, c.Target))
	if err != nil {
		check.Message = err.Error()
		return check
	}
	if !strings.Contains(string(data), c.Expected) {
		check.Message = fmt.Sprintf("%q not found", c.Expected)
		return check
	}
	check.Passed = true
	return check
}

// testInspector runs the target as a shell command; exit 0 passes. When Expected
// is set the combined output must also contain it.
type testInspector struct {
	dir     string
	timeout time.Duration
	create  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func (p *testInspector) Inspect(ctx context.Context, c models.CompletionCriterion) models.Check {
	check := models.Check{Name: checkName(c)}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := p.create(ctx, "sh", "-c", c.Target)
	cmd.Dir = p.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			check.Message = fmt.Sprintf("timed out after %s", p.timeout)
		} else {
			check.Message = fmt.Sprintf("%v: %s", err, lastLine(out.String()))
		}
		return check
	}
	if c.Expected != "" && !strings.Contains(out.String(), c.Expected) {
		check.Message = fmt.Sprintf("output missing %q", c.Expected)
		return check
	}
	check.Passed = true
	return check
}

// endpointInspector issues GET requests until a 2xx arrives or tries run out
type endpointInspector struct {
	client  *http.Client
	tries   uint64
	backoff time.Duration
}

func (p *endpointInspector) Inspect(ctx context.Context, c models.CompletionCriterion) models.Check {
	check := models.Check{Name: checkName(c)}

	var lastStatus int
	b := retry.WithMaxRetries(p.tries, retry.NewFibonacci(p.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Target, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		lastStatus = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
		}
		if c.Expected != "" {
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return retry.RetryableError(err)
			}
			if !strings.Contains(string(body), c.Expected) {
				return fmt.Errorf("body missing %q", c.Expected)
			}
		}
		return nil
	})
	if err != nil {
		check.Message = err.Error()
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("status %d", lastStatus)
	return check
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
