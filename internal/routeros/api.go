package routeros

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const apiTimeout = 10 * time.Second

// apiClient speaks the RouterOS binary API: sentences of length-prefixed
// words, terminated by an empty word. One connection per operation, matching
// how the router treats API sessions.
type apiClient struct {
	host      string
	port      int
	user      string
	pass      string
	useTLS    bool
	tlsVerify bool
}

func newAPIClient(p Profile, useTLS bool) *apiClient {
	return &apiClient{
		host:      p.Host,
		port:      p.Port,
		user:      p.Username,
		pass:      p.Password,
		useTLS:    useTLS,
		tlsVerify: p.TLSVerify && useTLS,
	}
}

func (c *apiClient) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: apiTimeout}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(apiTimeout))
	}

	if !c.useTLS {
		return conn, nil
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         c.host,
		InsecureSkipVerify: !c.tlsVerify,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: tls handshake: %v", ErrUnreachable, err)
	}
	return tlsConn, nil
}

// session wraps one authenticated API connection.
type session struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *apiClient) open(ctx context.Context) (*session, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{conn: conn, r: bufio.NewReader(conn)}

	// Post-6.43 plaintext login. The old challenge-response scheme is not
	// supported; RouterOS accepts this form on all current releases.
	if err := s.writeSentence("/login", "=name="+c.user, "=password="+c.pass); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := s.readReply(); err != nil {
		conn.Close()
		// A trap during /login means rejected credentials.
		if errors.Is(err, ErrProtocol) {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, err
	}
	return s, nil
}

func (s *session) close() { s.conn.Close() }

// run sends one command sentence and collects all !re rows until !done.
func (s *session) run(cmd string, args ...string) ([]map[string]string, error) {
	words := append([]string{cmd}, args...)
	if err := s.writeSentence(words...); err != nil {
		return nil, err
	}
	return s.readReply()
}

func (s *session) writeSentence(words ...string) error {
	var buf []byte
	for _, w := range words {
		buf = appendLength(buf, len(w))
		buf = append(buf, w...)
	}
	buf = appendLength(buf, 0)
	if _, err := s.conn.Write(buf); err != nil {
		return fmt.Errorf("%w: write: %v", ErrUnreachable, err)
	}
	return nil
}

// readReply reads sentences until !done, returning the attribute maps of all
// !re sentences. A !trap aborts with a protocol error carrying the router's
// message.
func (s *session) readReply() ([]map[string]string, error) {
	var rows []map[string]string
	for {
		sentence, err := s.readSentence()
		if err != nil {
			return nil, err
		}
		if len(sentence) == 0 {
			continue
		}
		switch sentence[0] {
		case "!done":
			return rows, nil
		case "!re":
			rows = append(rows, wordsToAttrs(sentence[1:]))
		case "!trap", "!fatal":
			attrs := wordsToAttrs(sentence[1:])
			msg := attrs["message"]
			if msg == "" {
				msg = strings.Join(sentence, " ")
			}
			return nil, fmt.Errorf("%w: %s", ErrProtocol, msg)
		default:
			return nil, fmt.Errorf("%w: unexpected reply word %q", ErrProtocol, sentence[0])
		}
	}
}

func (s *session) readSentence() ([]string, error) {
	var words []string
	for {
		n, err := readLength(s.r)
		if err != nil {
			return nil, fmt.Errorf("%w: read length: %v", ErrUnreachable, err)
		}
		if n == 0 {
			return words, nil
		}
		word := make([]byte, n)
		if _, err := io.ReadFull(s.r, word); err != nil {
			return nil, fmt.Errorf("%w: read word: %v", ErrUnreachable, err)
		}
		words = append(words, string(word))
	}
}

func wordsToAttrs(words []string) map[string]string {
	attrs := make(map[string]string, len(words))
	for _, w := range words {
		if !strings.HasPrefix(w, "=") && !strings.HasPrefix(w, ".") {
			continue
		}
		w = strings.TrimPrefix(w, "=")
		key, value, ok := strings.Cut(w, "=")
		if !ok {
			continue
		}
		attrs[key] = value
	}
	return attrs
}

// appendLength encodes a word length in the RouterOS variable-width scheme.
func appendLength(buf []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(buf, byte(n))
	case n < 0x4000:
		n |= 0x8000
		return append(buf, byte(n>>8), byte(n))
	case n < 0x200000:
		n |= 0xC00000
		return append(buf, byte(n>>16), byte(n>>8), byte(n))
	case n < 0x10000000:
		n |= 0xE0000000
		return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	default:
		return append(buf, 0xF0, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

func readLength(r *bufio.Reader) (int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	var n int
	var extra int
	switch {
	case b&0x80 == 0:
		return int(b), nil
	case b&0xC0 == 0x80:
		n = int(b & 0x3F)
		extra = 1
	case b&0xE0 == 0xC0:
		n = int(b & 0x1F)
		extra = 2
	case b&0xF0 == 0xE0:
		n = int(b & 0x0F)
		extra = 3
	default:
		n = 0
		extra = 4
	}
	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		n = n<<8 | int(b)
	}
	return n, nil
}

func (c *apiClient) ListInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	rows, err := s.run("/interface/wireguard/print")
	if err != nil {
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

func (c *apiClient) ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error) {
	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.close()

	rows, err := s.run("/interface/wireguard/peers/print")
	if err != nil {
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

func (c *apiClient) SetPeerDisabled(ctx context.Context, id string, disabled bool) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	_, err = s.run("/interface/wireguard/peers/set", "=.id="+id, "=disabled="+boolWord(disabled))
	return err
}
