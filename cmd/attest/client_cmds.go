package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/attest/pkg/pipeline"
	"github.com/Mindburn-Labs/attest/pkg/run"
)

const defaultServer = "http://localhost:8080"

// apiClient allows resume to wait out a full pipeline drive.
var apiClient = &http.Client{Timeout: 5 * time.Minute}

func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", defaultServer, "Orchestrator base URL")
	jsonOutput := cmd.Bool("json", false, "Output raw JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	runID := cmd.Arg(0)
	if runID == "" {
		fmt.Fprintln(stderr, "Usage: attest status [flags] <run-id>")
		return 2
	}

	body, status, err := apiGet(*server + "/v1/runs/" + runID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printProblem(stderr, status, body)
		return 1
	}
	if *jsonOutput {
		fmt.Fprintln(stdout, strings.TrimSpace(string(body)))
		return 0
	}

	var r run.Run
	if err := json.Unmarshal(body, &r); err != nil {
		fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
		return 1
	}
	printRun(stdout, &r)
	return 0
}

func runStepsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("steps", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", defaultServer, "Orchestrator base URL")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	runID := cmd.Arg(0)
	if runID == "" {
		fmt.Fprintln(stderr, "Usage: attest steps [flags] <run-id>")
		return 2
	}

	body, status, err := apiGet(*server + "/v1/runs/" + runID + "/steps")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printProblem(stderr, status, body)
		return 1
	}

	var resp struct {
		RunID string          `json:"run_id"`
		Steps []pipeline.Step `json:"steps"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
		return 1
	}

	if len(resp.Steps) == 0 {
		fmt.Fprintf(stdout, "Run %s has no resumable steps.\n", resp.RunID)
		return 0
	}
	fmt.Fprintf(stdout, "Resumable steps for run %s:\n", resp.RunID)
	for _, step := range resp.Steps {
		fmt.Fprintf(stdout, "  %s\n", step)
	}
	return 0
}

func runResumeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("resume", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	server := cmd.String("server", defaultServer, "Orchestrator base URL")
	from := cmd.String("from", "", "Step to resume from (REQUIRED)")
	jsonOutput := cmd.Bool("json", false, "Output the resumed run as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	runID := cmd.Arg(0)
	if runID == "" || *from == "" {
		fmt.Fprintln(stderr, "Usage: attest resume --from <step> [flags] <run-id>")
		return 2
	}

	body, status, err := apiPost(*server+"/v1/runs/"+runID+"/resume", map[string]string{"from": *from})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if status != http.StatusOK {
		printProblem(stderr, status, body)
		return 1
	}
	if *jsonOutput {
		fmt.Fprintln(stdout, strings.TrimSpace(string(body)))
		return 0
	}

	var r run.Run
	if err := json.Unmarshal(body, &r); err != nil {
		fmt.Fprintf(stderr, "Error: decode response: %v\n", err)
		return 1
	}
	printRun(stdout, &r)
	if r.State == run.StateFailed {
		return 1
	}
	return 0
}

func apiGet(url string) ([]byte, int, error) {
	resp, err := apiClient.Get(url)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func apiPost(url string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	resp, err := apiClient.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func printProblem(w io.Writer, status int, body []byte) {
	var p struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &p); err == nil && p.Title != "" {
		if p.Detail != "" {
			fmt.Fprintf(w, "Error: %s: %s\n", p.Title, p.Detail)
		} else {
			fmt.Fprintf(w, "Error: %s\n", p.Title)
		}
		return
	}
	fmt.Fprintf(w, "Error: status %d: %s\n", status, strings.TrimSpace(string(body)))
}
