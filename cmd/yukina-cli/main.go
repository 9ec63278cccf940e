package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Yukina server URL")
	flag.Parse()

	fmt.Println("Yukina Agent CLI")
	fmt.Printf("Server: %s\n", *server)
	printHelp()
	fmt.Println("---")

	fetchAgent(*server)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "/help":
			printHelp()
		case "/agent":
			fetchAgent(*server)
		case "/connections":
			fetchConnections(*server)
		case "/actions":
			if len(fields) < 2 {
				printError("usage: /actions <connection>")
				continue
			}
			fetchActions(*server, fields[1])
		case "/action":
			if len(fields) < 3 {
				printError("usage: /action <connection> <name>")
				continue
			}
			performAction(*server, fields[1], fields[2], scanner)
		case "/status":
			fetchStatus(*server)
		case "/start":
			postSimple(*server, "/api/loop/start")
		case "/stop":
			postSimple(*server, "/api/loop/stop")
		case "/history":
			fetchHistory(*server, limitArg(fields))
		case "/events":
			fetchEvents(*server, limitArg(fields))
		default:
			printError("unknown command: %s (try /help)", fields[0])
		}
	}
}

func printHelp() {
	fmt.Println("Commands: /agent, /connections, /actions <conn>, /action <conn> <name>,")
	fmt.Println("          /status, /start, /stop, /history [n], /events [n], /help")
	fmt.Println("Type 'exit' or 'quit' to leave.")
}

func limitArg(fields []string) string {
	if len(fields) > 1 {
		return "?limit=" + fields[1]
	}
	return ""
}

func fetchAgent(server string) {
	resp, err := http.Get(server + "/api/agent")
	if err != nil {
		printError("Failed to fetch agent: %v", err)
		return
	}
	defer resp.Body.Close()

	var a struct {
		Name      string   `json:"name"`
		Bio       []string `json:"bio"`
		LoopDelay float64  `json:"loop_delay"`
		Tasks     []struct {
			Name   string  `json:"name"`
			Weight float64 `json:"weight"`
		} `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		printError("Failed to parse agent: %v", err)
		return
	}
	fmt.Printf("Agent: \033[36m%s\033[0m (loop delay %.0fs)\n", a.Name, a.LoopDelay)
	for _, line := range a.Bio {
		fmt.Printf("  %s\n", line)
	}
	if len(a.Tasks) > 0 {
		fmt.Println("Tasks:")
		for _, t := range a.Tasks {
			fmt.Printf("  %s (weight %.1f)\n", t.Name, t.Weight)
		}
	}
}

func fetchConnections(server string) {
	resp, err := http.Get(server + "/api/connections")
	if err != nil {
		printError("Failed to fetch connections: %v", err)
		return
	}
	defer resp.Body.Close()

	var conns []struct {
		Name          string `json:"name"`
		Configured    bool   `json:"configured"`
		IsLLMProvider bool   `json:"is_llm_provider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conns); err != nil {
		printError("Failed to parse connections: %v", err)
		return
	}
	fmt.Println("Connections:")
	for _, c := range conns {
		icon := "\033[31m✗\033[0m"
		if c.Configured {
			icon = "\033[32m✓\033[0m"
		}
		kind := ""
		if c.IsLLMProvider {
			kind = " (llm)"
		}
		fmt.Printf("  %s %s%s\n", icon, c.Name, kind)
	}
}

type actionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  []struct {
		Name        string `json:"name"`
		Required    bool   `json:"required"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"parameters"`
}

func listActions(server, conn string) ([]actionInfo, error) {
	resp, err := http.Get(server + "/api/connections/" + conn + "/actions")
	if err != nil {
		return nil, fmt.Errorf("fetch actions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unknown connection %q", conn)
	}
	var actions []actionInfo
	if err := json.NewDecoder(resp.Body).Decode(&actions); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	return actions, nil
}

func fetchActions(server, conn string) {
	actions, err := listActions(server, conn)
	if err != nil {
		printError("%v", err)
		return
	}
	fmt.Printf("Actions for %s:\n", conn)
	for _, a := range actions {
		fmt.Printf("  \033[36m%s\033[0m: %s\n", a.Name, a.Description)
		for _, p := range a.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("      %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
}

func performAction(server, conn, name string, scanner *bufio.Scanner) {
	actions, err := listActions(server, conn)
	if err != nil {
		printError("%v", err)
		return
	}
	var action *actionInfo
	for i := range actions {
		if actions[i].Name == name {
			action = &actions[i]
			break
		}
	}
	if action == nil {
		printError("unknown action %q for %s", name, conn)
		return
	}

	var params []any
	for _, p := range action.Parameters {
		if !p.Required {
			continue
		}
		fmt.Printf("%s (%s): ", p.Name, p.Description)
		if !scanner.Scan() {
			return
		}
		params = append(params, strings.TrimSpace(scanner.Text()))
	}

	body, _ := json.Marshal(map[string]any{
		"connection": conn,
		"action":     name,
		"params":     params,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+"/api/actions", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var out struct {
		Result any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	pretty, _ := json.MarshalIndent(out.Result, "", "  ")
	fmt.Println(string(pretty))
}

func fetchStatus(server string) {
	resp, err := http.Get(server + "/api/loop/status")
	if err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	defer resp.Body.Close()

	var st struct {
		Running       bool   `json:"running"`
		Iterations    uint64 `json:"iterations"`
		BufferSize    int    `json:"buffer_size"`
		LastPost      string `json:"last_post"`
		ModelProvider string `json:"model_provider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		printError("Failed to parse status: %v", err)
		return
	}
	state := "\033[31mstopped\033[0m"
	if st.Running {
		state = "\033[32mrunning\033[0m"
	}
	fmt.Printf("Loop: %s | iterations: %d | buffered: %d\n", state, st.Iterations, st.BufferSize)
	if st.ModelProvider != "" {
		fmt.Printf("Model provider: %s\n", st.ModelProvider)
	}
	if st.LastPost != "" && !strings.HasPrefix(st.LastPost, "0001-") {
		fmt.Printf("Last post: %s\n", st.LastPost)
	}
}

func postSimple(server, path string) {
	resp, err := http.Post(server+path, "application/json", nil)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	var out struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(data, &out) == nil && out.Status != "" {
		fmt.Println(out.Status)
	} else {
		fmt.Println(string(data))
	}
}

func fetchHistory(server, query string) {
	resp, err := http.Get(server + "/api/history" + query)
	if err != nil {
		printError("Failed to fetch history: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	var records []struct {
		Connection string `json:"connection"`
		Action     string `json:"action"`
		Detail     string `json:"detail"`
		OK         bool   `json:"ok"`
		Error      string `json:"error"`
		CreatedAt  string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		printError("Failed to parse history: %v", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No actions recorded yet.")
		return
	}
	for _, r := range records {
		icon := "\033[32m✓\033[0m"
		if !r.OK {
			icon = "\033[31m✗\033[0m"
		}
		fmt.Printf("  %s %s %s/%s", icon, r.CreatedAt, r.Connection, r.Action)
		if r.Detail != "" {
			fmt.Printf(" %q", r.Detail)
		}
		if r.Error != "" {
			fmt.Printf(" \033[31m(%s)\033[0m", r.Error)
		}
		fmt.Println()
	}
}

func fetchEvents(server, query string) {
	resp, err := http.Get(server + "/api/events" + query)
	if err != nil {
		printError("Failed to fetch events: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}
	var evts []struct {
		Kind       string `json:"kind"`
		Connection string `json:"connection"`
		Action     string `json:"action"`
		Detail     string `json:"detail"`
		OK         bool   `json:"ok"`
		Timestamp  string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&evts); err != nil {
		printError("Failed to parse events: %v", err)
		return
	}
	if len(evts) == 0 {
		fmt.Println("No events yet.")
		return
	}
	for _, e := range evts {
		icon := "\033[32m✓\033[0m"
		if !e.OK {
			icon = "\033[31m✗\033[0m"
		}
		fmt.Printf("  %s %s %s", icon, e.Timestamp, e.Kind)
		if e.Connection != "" {
			fmt.Printf(" %s/%s", e.Connection, e.Action)
		}
		if e.Detail != "" {
			fmt.Printf(" %q", e.Detail)
		}
		fmt.Println()
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
