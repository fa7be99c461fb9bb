package mail

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtdb/ani-engine/pkg/config"
)

func TestCompletionMessage(t *testing.T) {
	msg := CompletionMessage("https://gtdb.ecogenomic.org/tools/skani/", "jane@example.org", "0000beef", false)
	assert.Equal(t, "jane@example.org", msg.To)
	assert.Equal(t, "ANI job 0000beef is complete", msg.Subject)
	assert.Contains(t, msg.Body, "https://gtdb.ecogenomic.org/tools/skani/0000beef")

	msg = CompletionMessage("https://example.org", "jane@example.org", "0000beef", true)
	assert.Equal(t, "ANI job 0000beef failed", msg.Subject)
	assert.Contains(t, msg.Body, "finished with errors")
}

func TestNewSMTPSender_DisabledWithoutHost(t *testing.T) {
	assert.Nil(t, NewSMTPSender(&config.MailConfig{}))
}

// fakeRelay speaks just enough SMTP for net/smtp's client.
type fakeRelay struct {
	ln       net.Listener
	mu       sync.Mutex
	from     string
	rcpt     string
	data     string
	rejectTo bool
}

func startRelay(t *testing.T, rejectTo bool) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRelay{ln: ln, rejectTo: rejectTo}
	t.Cleanup(func() { _ = ln.Close() })
	go r.serve()
	return r
}

func (r *fakeRelay) port() int {
	return r.ln.Addr().(*net.TCPAddr).Port
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 fake ESMTP")
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-fake")
			reply("250 8BITMIME")
		case "MAIL":
			r.mu.Lock()
			r.from = line
			r.mu.Unlock()
			reply("250 OK")
		case "RCPT":
			if r.rejectTo {
				reply("550 mailbox unavailable")
				continue
			}
			r.mu.Lock()
			r.rcpt = line
			r.mu.Unlock()
			reply("250 OK")
		case "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := rd.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			r.mu.Lock()
			r.data = body.String()
			r.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func testSender(port int) *SMTPSender {
	s := NewSMTPSender(&config.MailConfig{
		Host: "127.0.0.1",
		Port: port,
		From: "noreply@gtdb.example",
	})
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestSMTPSender_Send(t *testing.T) {
	relay := startRelay(t, false)
	sender := testSender(relay.port())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sender.Send(ctx, CompletionMessage("https://portal", "jane@example.org", "0000beef", false))
	require.NoError(t, err)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, "MAIL FROM:<noreply@gtdb.example> BODY=8BITMIME", relay.from)
	assert.Equal(t, "RCPT TO:<jane@example.org>", relay.rcpt)
	assert.Contains(t, relay.data, "Subject: ANI job 0000beef is complete\r\n")
	assert.Contains(t, relay.data, "To: <jane@example.org>\r\n")
	assert.Contains(t, relay.data, "https://portal/0000beef")
}

func TestSMTPSender_RecipientRejected(t *testing.T) {
	relay := startRelay(t, true)
	sender := testSender(relay.port())

	err := sender.Send(context.Background(), Message{To: "jane@example.org", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RCPT TO rejected")
}

func TestSMTPSender_InvalidRecipient(t *testing.T) {
	sender := testSender(1)
	err := sender.Send(context.Background(), Message{To: "not an address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestSMTPSender_RelayDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port, _ := strconv.Atoi(strings.Split(ln.Addr().String(), ":")[1])
	_ = ln.Close()

	err = testSender(port).Send(context.Background(), Message{To: "jane@example.org"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
