// Command docgen scans the @Title/@Route annotations on the API handlers
// and writes the AsciiDoc API reference served under /docs/api.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Request     string
	Response    string
}

// Method returns the HTTP method of the route.
func (e Endpoint) Method() string {
	return strings.Fields(e.Route)[0]
}

// Path returns the route without its method.
func (e Endpoint) Path() string {
	return strings.TrimSpace(strings.TrimPrefix(e.Route, e.Method()))
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reReq   = regexp.MustCompile(`// @Request: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("api", "internal/api", "directory holding the annotated handlers")
	out := flag.String("out", "docs/api.adoc", "output AsciiDoc file")
	flag.Parse()

	endpoints, err := parseEndpoints(*apiDir)
	if err != nil {
		log.Fatalf("scan %s: %v", *apiDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	if err := os.WriteFile(*out, []byte(renderAsciiDoc(endpoints)), 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *out, len(endpoints))
}

// parseEndpoints reads every non-test Go file in dir. A block ends at its
// @Response line.
func parseEndpoints(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		found, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, found...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Path() < endpoints[j].Path()
	})
	return endpoints, nil
}

func parseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var endpoints []Endpoint
	var current Endpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reReq.FindStringSubmatch(line); len(match) > 1 {
			current.Request = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func renderAsciiDoc(endpoints []Endpoint) string {
	var b strings.Builder
	b.WriteString("= API Reference\n")
	b.WriteString(":toc:\n\n")
	b.WriteString("Generated by `go run ./cmd/docgen` from the handler annotations in `internal/api`. Do not edit by hand.\n\n")
	b.WriteString("The acting participant is read from the request body or the `X-Participant-Address` header.\n")
	b.WriteString("Errors are returned as `{\"error\": \"...\", \"reason\": \"...\"}`.\n\n")

	b.WriteString("[cols=\"1,3,4\",options=\"header\"]\n|===\n|Method |Path |Title\n")
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "|%s |`%s` |<<%s,%s>>\n", ep.Method(), ep.Path(), anchor(ep), ep.Title)
	}
	b.WriteString("|===\n")

	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n[[%s]]\n== %s\n\n", anchor(ep), ep.Title)
		fmt.Fprintf(&b, "`%s`\n\n", ep.Route)
		if ep.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", ep.Description)
		}
		if ep.Request != "" {
			fmt.Fprintf(&b, ".Request\n[source,json]\n----\n%s\n----\n\n", ep.Request)
		}
		fmt.Fprintf(&b, "Response:: %s\n", ep.Response)
	}
	return b.String()
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func anchor(ep Endpoint) string {
	return "ep-" + strings.Trim(nonWord.ReplaceAllString(strings.ToLower(ep.Title), "-"), "-")
}
