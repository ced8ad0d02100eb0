// Command ingestctl is the operator CLI for the gateway's /internal/*
// surface: listing stored objects, inspecting their metadata and deleting
// them. It talks to the main-domain host with the shared callback secret as
// a bearer token.
//
// Usage:
//
//	ingestctl list [--prefix P] [--limit N] [--all]
//	ingestctl meta <adapterKey>
//	ingestctl delete <adapterKey> [--yes]
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
)

var version = "dev"

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int32  `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

type listObject struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	ETag     string    `json:"etag,omitempty"`
	Uploaded time.Time `json:"uploaded"`
}

type listResponse struct {
	Objects   []listObject `json:"objects"`
	Truncated bool         `json:"truncated"`
	Cursor    string       `json:"cursor,omitempty"`
}

type metadataResponse struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Uploaded    time.Time         `json:"uploaded"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func (c *client) do(method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Code != "" {
			return fmt.Errorf("%s (%s)", envelope.Error, envelope.Code)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		gatewayURL  = flag.StringP("gateway", "g", os.Getenv("INGESTGW_URL"), "Gateway main-domain base URL (or INGESTGW_URL)")
		secret      = flag.String("secret", os.Getenv("INGESTGW_SECRET"), "Shared callback secret (or INGESTGW_SECRET)")
		jsonOutput  = flag.Bool("json", false, "Output raw JSON")
		noColor     = flag.Bool("no-color", false, "Disable color output")
	)
	flag.SetInterspersed(false)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println("ingestctl", version)
		return
	}
	if *noColor {
		color.NoColor = true
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	if *gatewayURL == "" || *secret == "" {
		fatal("both --gateway and --secret are required (or INGESTGW_URL / INGESTGW_SECRET)")
	}

	c := &client{
		baseURL: strings.TrimRight(*gatewayURL, "/"),
		secret:  *secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch args[0] {
	case "list":
		err = cmdList(c, args[1:], *jsonOutput)
	case "meta":
		err = cmdMeta(c, args[1:], *jsonOutput)
	case "delete":
		err = cmdDelete(c, args[1:])
	default:
		fatal("unknown command %q", args[0])
	}
	if err != nil {
		fatal("%v", err)
	}
}

func cmdList(c *client, args []string, jsonOutput bool) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	prefix := fs.StringP("prefix", "p", "", "Key prefix to list under")
	limit := fs.Int32P("limit", "n", 100, "Page size")
	all := fs.Bool("all", false, "Follow pagination to the end")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var objects []listObject
	cursor := ""

	var bar *progressbar.ProgressBar
	if *all && !jsonOutput {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("listing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
	}

	for {
		var page listResponse
		err := c.do(http.MethodPost, "/internal/list", listRequest{Prefix: *prefix, Limit: *limit, Cursor: cursor}, &page)
		if err != nil {
			return err
		}
		objects = append(objects, page.Objects...)
		if bar != nil {
			_ = bar.Add(len(page.Objects))
		}
		if !*all || !page.Truncated || page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(objects)
	}

	keyColor := color.New(color.FgCyan)
	for _, obj := range objects {
		keyColor.Print(obj.Key)
		fmt.Printf("  %s  %s\n", humanSize(obj.Size), obj.Uploaded.Format(time.RFC3339))
	}
	color.New(color.Faint).Fprintf(os.Stderr, "%d object(s)\n", len(objects))
	return nil
}

func cmdMeta(c *client, args []string, jsonOutput bool) error {
	fs := flag.NewFlagSet("meta", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ingestctl meta <adapterKey>")
	}
	adapterKey := fs.Arg(0)

	var meta metadataResponse
	if err := c.do(http.MethodPost, "/internal/get-metadata/"+adapterKey, nil, &meta); err != nil {
		return err
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(meta)
	}

	label := color.New(color.Faint)
	label.Print("key:          ")
	fmt.Println(meta.Key)
	label.Print("size:         ")
	fmt.Println(humanSize(meta.Size))
	label.Print("content-type: ")
	fmt.Println(meta.ContentType)
	label.Print("etag:         ")
	fmt.Println(meta.ETag)
	label.Print("uploaded:     ")
	fmt.Println(meta.Uploaded.Format(time.RFC3339))
	for k, v := range meta.Metadata {
		label.Printf("meta.%s: ", k)
		fmt.Println(v)
	}
	return nil
}

func cmdDelete(c *client, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	yes := fs.BoolP("yes", "y", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ingestctl delete <adapterKey> [--yes]")
	}
	adapterKey := fs.Arg(0)

	if !*yes {
		fmt.Printf("delete %s? [y/N] ", adapterKey)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	if err := c.do(http.MethodDelete, "/internal/delete/"+adapterKey, nil, nil); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("deleted %s\n", adapterKey)
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func usage() {
	fmt.Fprintf(os.Stderr, `ingestctl - operator CLI for the ingestion gateway

Usage:
  ingestctl [flags] <command> [command flags]

Commands:
  list      List stored objects (--prefix, --limit, --all)
  meta      Show one object's metadata
  delete    Delete one object

Flags:
`)
	flag.PrintDefaults()
}

func fatal(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, "ingestctl: "+format+"\n", args...)
	os.Exit(1)
}
