package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/Jon-Bright/clktree/clk"
)

type Server struct {
	g *clk.Graph
	l net.Listener
}

func NewServer(port int, g *clk.Graph) (*Server, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	log.Printf("Listening on port %d", port)
	return &Server{g, l}, nil
}

func splitArgs(parms string, n int) ([]string, error) {
	a := strings.Fields(parms)
	if len(a) != n {
		return nil, fmt.Errorf("want %d arguments, got %d", n, len(a))
	}
	return a, nil
}

// command runs one request and returns the reply, without the trailing newline.
func (s *Server) command(cmd, parms string) (string, error) {
	switch cmd {
	case "GET":
		a, err := splitArgs(parms, 1)
		if err != nil {
			return "", err
		}
		c, err := lookupClock(s.g, a[0])
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(c.Rate(), 10), nil
	case "ROUND", "SET":
		a, err := splitArgs(parms, 2)
		if err != nil {
			return "", err
		}
		c, err := lookupClock(s.g, a[0])
		if err != nil {
			return "", err
		}
		hz, err := parseHz(a[1])
		if err != nil {
			return "", err
		}
		if cmd == "ROUND" {
			r, err := c.RoundRate(hz)
			if err != nil {
				return "", err
			}
			return strconv.FormatUint(r, 10), nil
		}
		if err := c.SetRate(hz); err != nil {
			return "", err
		}
		return "OK", nil
	case "ENABLE", "DISABLE":
		a, err := splitArgs(parms, 1)
		if err != nil {
			return "", err
		}
		c, err := lookupClock(s.g, a[0])
		if err != nil {
			return "", err
		}
		if cmd == "ENABLE" {
			err = c.Enable()
		} else {
			err = c.Disable()
		}
		if err != nil {
			return "", err
		}
		return "OK", nil
	case "PARENT":
		a := strings.Fields(parms)
		if len(a) < 1 || len(a) > 2 {
			return "", fmt.Errorf("want 1 or 2 arguments, got %d", len(a))
		}
		c, err := lookupClock(s.g, a[0])
		if err != nil {
			return "", err
		}
		if len(a) == 1 {
			return parentName(c), nil
		}
		if err := setParent(c, a[1]); err != nil {
			return "", err
		}
		return "OK", nil
	case "TREE":
		var b bytes.Buffer
		if err := writeTree(&b, s.g); err != nil {
			return "", err
		}
		return b.String() + "OK", nil
	}
	return "", fmt.Errorf("unknown command: %s", cmd)
}

func (s *Server) handleConnection(c net.Conn) {
	log.Printf("Handling connection from %v", c.RemoteAddr())
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		l, err := r.ReadString('\n')
		if err == io.EOF {
			log.Printf("EOF for connection %v", c.RemoteAddr())
			return
		}
		if err != nil {
			log.Printf("Error reading string for connection %v: %v", c.RemoteAddr(), err)
			return
		}
		l = strings.TrimSpace(l)
		log.Printf("Got line '%s'", l)
		t := strings.SplitN(l, " ", 2)
		cmd := strings.ToUpper(t[0])
		parms := ""
		if len(t) > 1 {
			parms = t[1]
		}
		if cmd == "QUIT" {
			return
		}
		reply, err := s.command(cmd, parms)
		if err != nil {
			log.Printf("%s failed: %v", cmd, err)
			reply = "ERR: " + err.Error()
		}
		w.WriteString(reply + "\n")
		if err := w.Flush(); err != nil {
			log.Printf("error writing reply: %v", err)
			return
		}
	}
}

func (s *Server) handleConnections() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			log.Printf("Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}
