package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"control_room/internal/bridge"
	"control_room/internal/domain"
	"control_room/internal/store"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type stateView struct {
	State      domain.State          `json:"state"`
	LastTickID int64                 `json:"last_tick_id"`
	Version    uint64                `json:"version"`
	Groups     []store.GroupProgress `json:"groups"`
	Bridge     bridge.Stats          `json:"bridge"`
}

type planView struct {
	Name    string `json:"name"`
	Items   int    `json:"items"`
	Default bool   `json:"default"`
}

func (c *client) state() (stateView, error) {
	var out stateView
	if err := c.getJSON("/state", &out); err != nil {
		return stateView{}, err
	}
	return out, nil
}

func (c *client) plans() ([]planView, error) {
	var out []planView
	if err := c.getJSON("/plans", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) sendIntent(intent domain.Intent) error {
	return c.postJSON("/intents", intent, nil)
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

type embeddedSimulator struct {
	cmd *exec.Cmd
	out bytes.Buffer
}

// startEmbeddedSimulator launches the simulator on the port of addr. A
// sibling simulator binary is preferred over go run.
func startEmbeddedSimulator(addr, binary, journalPath string) (*embeddedSimulator, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"-addr", ":" + port}
	if strings.TrimSpace(journalPath) != "" {
		if err := os.MkdirAll(filepath.Dir(journalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		args = append(args, "-journal", journalPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(binary) != "" {
		cmd = exec.Command(binary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			for _, name := range []string{"simulator", "simulator.exe"} {
				sibling := filepath.Join(filepath.Dir(self), name)
				if fileExists(sibling) {
					cmd = exec.Command(sibling, args...)
					break
				}
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/simulator"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	proc := &embeddedSimulator{cmd: cmd}
	cmd.Stdout = &proc.out
	cmd.Stderr = &proc.out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start simulator process: %w", err)
	}
	return proc, nil
}

func (e *embeddedSimulator) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
