// Package remotetest runs an in-process SSH server that behaves like the
// tablet, for tests that exercise the real transport.
package remotetest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"strconv"
	gosync "sync"

	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// VersionCommand prints the firmware version on the tablet.
const VersionCommand = "cat /etc/version"

// Server accepts SSH connections, serves SFTP from the local filesystem, and
// answers the commands that tabletsync runs.
type Server struct {
	User     string
	Password string

	// Version is returned by VersionCommand.
	Version string

	listener net.Listener
	config   *ssh.ServerConfig

	mu             gosync.Mutex
	authorizedKeys []ssh.PublicKey
	conns          []net.Conn
	wg             gosync.WaitGroup
}

// NewServer starts a server on a random local port that accepts `user` with
// `password`.
func NewServer(user, password string) (*Server, error) {
	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.NewSignerFromKey(hostKey)
	if err != nil {
		return nil, err
	}

	s := &Server{User: user, Password: password, Version: "20240501120000"}
	s.config = &ssh.ServerConfig{
		PasswordCallback:  s.checkPassword,
		PublicKeyCallback: s.checkKey,
	}
	s.config.AddHostKey(signer)

	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Host returns the address the server is listening on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// AuthorizeKey allows logins with the given public key.
func (s *Server) AuthorizeKey(key ssh.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizedKeys = append(s.authorizedKeys, key)
}

// DropConnections closes every open connection, as if the tablet went to
// sleep.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// Close stops accepting connections and closes the open ones.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.DropConnections()
	s.wg.Wait()
	return err
}

func (s *Server) checkPassword(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	if s.Password != "" && meta.User() == s.User && string(password) == s.Password {
		return nil, nil
	}
	return nil, fmt.Errorf("password rejected for %s", meta.User())
}

func (s *Server) checkKey(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.User() == s.User {
		for _, authorized := range s.authorizedKeys {
			if string(authorized.Marshal()) == string(key.Marshal()) {
				return nil, nil
			}
		}
	}
	return nil, fmt.Errorf("key rejected for %s", meta.User())
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		log.WithError(err).Debug("Rejected SSH connection")
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			if err := server.Serve(); err != nil {
				log.WithError(err).Debug("SFTP server stopped")
			}
			server.Close()
			return

		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			out, status := s.exec(payload.Command)
			channel.Write([]byte(out))
			channel.SendRequest("exit-status", false,
				ssh.Marshal(struct{ Status uint32 }{status}))
			return

		default:
			req.Reply(false, nil)
		}
	}
}

func (s *Server) exec(command string) (string, uint32) {
	switch command {
	case `echo "test"`:
		return "test\n", 0
	case VersionCommand:
		return s.Version + "\n", 0
	default:
		return "", 127
	}
}
