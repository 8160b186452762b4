// ABOUTME: Admin CLI for the atelier backend
// ABOUTME: Talks to the HTTP API with JWT authentication

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/atelier-run/atelier/internal/api"
)

const banner = `
       _       _ _                        _           _
  __ _| |_ ___| (_) ___ _ __    __ _  __| |_ __ ___ (_)_ __
 / _' | __/ _ \ | |/ _ \ '__|  / _' |/ _' | '_ ' _ \| | '_ \
| (_| | ||  __/ | |  __/ |    | (_| | (_| | | | | | | | | | |
 \__,_|\__\___|_|_|\___|_|     \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	client := &apiClient{cfg: cfg}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "me":
		err = cmdMe(client)
	case "notifications":
		err = cmdNotifications(client)
	case "library":
		err = cmdLibrary(client, args)
	case "presets":
		err = cmdPresets(client, args)
	case "health":
		err = cmdHealth(client)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: atelier-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  me                    Show the authenticated account")
	fmt.Println("  notifications         Show notification preferences")
	fmt.Println("  library [search]      List library agents")
	fmt.Println("  presets [page]        List presets")
	fmt.Println("  health                Check server health")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  ATELIER_SERVER_URL    Server base URL (default: http://localhost:8080)")
	fmt.Println("  ATELIER_TOKEN         JWT authentication token")
	fmt.Println("  ATELIER_ADMIN_CONFIG  Config file path (default: ~/.config/atelier/admin.toml)")
}

// apiClient performs authenticated JSON requests against the server.
type apiClient struct {
	cfg *Config
}

func (c *apiClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.cfg.Server.URL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if c.cfg.Auth.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Auth.Token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func cmdMe(client *apiClient) error {
	var me api.UserResponse
	if err := client.get("/api/me", &me); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("Account")
	cyan.Println("-------")
	fmt.Printf("ID:    %s\n", me.ID)
	fmt.Printf("Email: %s\n", me.Email)
	if me.Name != "" {
		fmt.Printf("Name:  %s\n", me.Name)
	}
	return nil
}

func cmdNotifications(client *apiClient) error {
	var pref api.NotificationPreferenceResponse
	if err := client.get("/api/me/notifications", &pref); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tENABLED")
	for kind, enabled := range pref.Preferences {
		fmt.Fprintf(w, "%s\t%t\n", kind, enabled)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nDaily limit: %d (sent today: %d)\n", pref.DailyLimit, pref.EmailsSentToday)
	return nil
}

func cmdLibrary(client *apiClient, args []string) error {
	path := "/api/library/agents"
	if len(args) > 0 {
		path += "?search=" + args[0]
	}

	var agents []api.LibraryAgentResponse
	if err := client.get(path, &agents); err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println("No library agents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tAUTO\tFAV\tUPDATED")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%t\t%s\n",
			a.ID, a.Name, a.AgentVersion, a.UseGraphIsActiveVersion, a.IsFavorite, a.UpdatedAt)
	}
	return w.Flush()
}

func cmdPresets(client *apiClient, args []string) error {
	page := 0
	if len(args) > 0 {
		var err error
		if page, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("invalid page %q", args[0])
		}
	}

	var list api.PresetListResponse
	if err := client.get(fmt.Sprintf("/api/presets?page=%d&page_size=20", page), &list); err != nil {
		return err
	}

	if len(list.Presets) == 0 {
		fmt.Println("No presets.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGENT\tVERSION\tACTIVE\tINPUTS")
	for _, p := range list.Presets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%d\n",
			p.ID, p.Name, p.AgentID, p.AgentVersion, p.IsActive, len(p.Inputs))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nPage %d of %d (%d total)\n",
		list.Pagination.CurrentPage, list.Pagination.TotalPages, list.Pagination.TotalItems)
	return nil
}

func cmdHealth(client *apiClient) error {
	var status map[string]string
	if err := client.get("/health", &status); err != nil {
		return err
	}
	fmt.Println(status["status"])
	return nil
}
