package routeros

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const restTimeout = 10 * time.Second

// restClient speaks the RouterOS REST API (/rest/...). Available on
// RouterOS v7 with the www or www-ssl service enabled.
type restClient struct {
	host  string
	port  int
	user  string
	pass  string
	https bool
	// allowFallback retries once on the alternate scheme after a transport
	// error, for profiles where http/https is misconfigured.
	allowFallback bool
	client        *http.Client
}

func newRESTClient(p Profile, https, allowFallback bool) *restClient {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !p.TLSVerify},
	}
	return &restClient{
		host:          p.Host,
		port:          p.Port,
		user:          p.Username,
		pass:          p.Password,
		https:         https,
		allowFallback: allowFallback,
		client:        &http.Client{Timeout: restTimeout, Transport: transport},
	}
}

func (c *restClient) base(https bool) string {
	scheme := "http"
	if https {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/rest", scheme, c.host, c.port)
}

func (c *restClient) request(ctx context.Context, method, path string, body any, out any) error {
	err := c.do(ctx, method, c.base(c.https)+path, body, out)
	if err == nil || !c.allowFallback {
		return err
	}
	// Only a transport-level failure justifies flipping the scheme; an HTTP
	// status from RouterOS is a real answer.
	if !isTransportErr(err) {
		return err
	}
	if fbErr := c.do(ctx, method, c.base(!c.https)+path, body, out); fbErr == nil {
		return nil
	}
	return err
}

func (c *restClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("routeros: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("routeros: creating request: %w", err)
	}
	req.SetBasicAuth(c.user, c.pass)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", ErrProtocol, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrProtocol, err)
		}
	}
	return nil
}

func isTransportErr(err error) bool {
	// Anything classified unreachable came from the transport layer.
	return errors.Is(err, ErrUnreachable)
}

func (c *restClient) ListInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var rows []map[string]string
	if err := c.request(ctx, http.MethodGet, "/interface/wireguard", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]InterfaceInfo, 0, len(rows))
	for _, row := range rows {
		if row["name"] == "" {
			continue
		}
		out = append(out, interfaceFromAttrs(row))
	}
	return out, nil
}

func (c *restClient) ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error) {
	var rows []map[string]string
	if err := c.request(ctx, http.MethodGet, "/interface/wireguard/peers", nil, &rows); err != nil {
		return nil, err
	}
	var out []PeerSnapshot
	for _, row := range rows {
		if iface != "" && row["interface"] != iface {
			continue
		}
		out = append(out, peerFromAttrs(row))
	}
	return out, nil
}

func (c *restClient) SetPeerDisabled(ctx context.Context, id string, disabled bool) error {
	// Some RouterOS versions return 500 for PUT/PATCH on the item endpoint.
	// The "set" action endpoint is reliable across versions.
	body := map[string]string{
		"numbers":  id,
		"disabled": boolWord(disabled),
	}
	return c.request(ctx, http.MethodPost, "/interface/wireguard/peers/set", body, nil)
}
