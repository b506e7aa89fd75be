// Command admincli is an operator tool against a running authzd instance:
// ad-hoc authorization checks, effective-permission lookups, cache
// invalidation and parent-edge cycle checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const (
	tenantHeader    = "X-Tenant-ID"
	defaultBaseURL  = "http://localhost:8080"
	defaultTenantID = "11111111-1111-1111-1111-111111111111"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "permissions":
		err = runPermissions(os.Args[2:])
	case "filter":
		err = runFilter(os.Args[2:])
	case "invalidate-principal":
		err = runInvalidate(os.Args[2:], "principal")
	case "invalidate-resource":
		err = runInvalidate(os.Args[2:], "resource")
	case "cycle-check":
		err = runCycleCheck(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	baseURL, tenant := addCommonFlags(fs)
	principal := fs.String("principal", "", "Principal identifier")
	perm := fs.String("permission", "", "Permission name, e.g. entity:read")
	resource := fs.String("resource", "", "Resource identifier (optional)")
	bypass := fs.Bool("bypass-cache", false, "Force a fresh evaluation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *principal == "" || *perm == "" {
		return fmt.Errorf("principal and permission are required")
	}

	payload := map[string]interface{}{
		"principal_id": *principal,
		"permission":   *perm,
		"bypass_cache": *bypass,
	}
	if *resource != "" {
		payload["resource_id"] = *resource
	}

	body, _, err := doRequest(http.MethodPost, *baseURL, "/v1/authorize", *tenant, payload)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runPermissions(args []string) error {
	fs := flag.NewFlagSet("permissions", flag.ExitOnError)
	baseURL, tenant := addCommonFlags(fs)
	principal := fs.String("principal", "", "Principal identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *principal == "" {
		return fmt.Errorf("principal is required")
	}

	path := fmt.Sprintf("/v1/principals/%s/permissions", url.PathEscape(*principal))
	body, _, err := doRequest(http.MethodGet, *baseURL, path, *tenant, nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runFilter(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	baseURL, tenant := addCommonFlags(fs)
	principal := fs.String("principal", "", "Principal identifier")
	perm := fs.String("permission", "", "Permission name")
	resources := fs.String("resources", "", "Comma-separated resource identifiers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *principal == "" || *perm == "" || *resources == "" {
		return fmt.Errorf("principal, permission and resources are required")
	}

	payload := map[string]interface{}{
		"principal_id": *principal,
		"permission":   *perm,
		"resource_ids": splitAndClean(*resources),
	}
	body, _, err := doRequest(http.MethodPost, *baseURL, "/v1/filter", *tenant, payload)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runInvalidate(args []string, kind string) error {
	fs := flag.NewFlagSet("invalidate-"+kind, flag.ExitOnError)
	baseURL, tenant := addCommonFlags(fs)
	id := fs.String("id", "", kind+" identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("id is required")
	}

	path := fmt.Sprintf("/v1/invalidate/%s/%s", kind, url.PathEscape(*id))
	if _, _, err := doRequest(http.MethodPost, *baseURL, path, *tenant, nil); err != nil {
		return err
	}
	fmt.Println("Cache invalidated")
	return nil
}

func runCycleCheck(args []string) error {
	fs := flag.NewFlagSet("cycle-check", flag.ExitOnError)
	baseURL, tenant := addCommonFlags(fs)
	child := fs.String("child", "", "Child resource identifier")
	parent := fs.String("parent", "", "Candidate parent resource identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *child == "" || *parent == "" {
		return fmt.Errorf("child and parent are required")
	}

	path := fmt.Sprintf("/v1/cycle-check?child_id=%s&parent_id=%s",
		url.QueryEscape(*child), url.QueryEscape(*parent))
	body, _, err := doRequest(http.MethodGet, *baseURL, path, *tenant, nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func addCommonFlags(fs *flag.FlagSet) (*string, *string) {
	baseURL := fs.String("base-url", defaultBaseURL, "authzd base URL")
	tenant := fs.String("tenant", defaultTenantID, "Tenant identifier")
	return baseURL, tenant
}

func doRequest(method, baseURL, path, tenantID string, payload interface{}) ([]byte, int, error) {
	endpoint := strings.TrimRight(baseURL, "/") + path
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(tenantHeader, tenantID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return respBody, resp.StatusCode, fmt.Errorf("request failed: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	return respBody, resp.StatusCode, nil
}

func splitAndClean(values string) []string {
	parts := strings.Split(values, ",")
	var cleaned []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func printJSON(body []byte) error {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func usage() {
	fmt.Print(`Usage: admincli <command> [options]

Commands:
  check                 Run an ad-hoc authorization check
  permissions           Show a principal's effective permissions
  filter                Filter resource ids by access
  invalidate-principal  Evict cached decisions for a principal
  invalidate-resource   Evict cached decisions and chains for a resource
  cycle-check           Test whether a parent edge would close a cycle

Global options:
	-base-url   authzd base URL (default http://localhost:8080)
	-tenant     Tenant identifier header (default 11111111-1111-1111-1111-111111111111)
`)
}
