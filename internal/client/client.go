// Package client provides a programmatic connection to a KeystoneLight
// server and an interactive readline REPL built on top of it.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
)

// Client is one persistent connection to the server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to a server at addr.
func Dial(addr string) (*Client, error) {
	conn, dialErr := net.Dial("tcp", addr)
	if dialErr != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, dialErr)
	}

	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// Do sends one raw command line and returns the single response line
// with its trailing newline stripped.
func (c *Client) Do(command string) (string, error) {
	_, writeErr := fmt.Fprintf(c.conn, "%s\n", command)
	if writeErr != nil {
		return "", fmt.Errorf("send command: %w", writeErr)
	}

	response, readErr := c.reader.ReadString('\n')
	if readErr != nil {
		return "", fmt.Errorf("read response: %w", readErr)
	}

	return strings.TrimSuffix(strings.TrimSuffix(response, "\n"), "\r"), nil
}

// Get fetches the value for key. ok is false when the key is missing.
func (c *Client) Get(key string) (value string, ok bool, err error) {
	response, doErr := c.Do("GET " + key)
	if doErr != nil {
		return "", false, doErr
	}

	if response == "NOT_FOUND" {
		return "", false, nil
	}

	if after, isErr := strings.CutPrefix(response, "ERROR "); isErr {
		return "", false, fmt.Errorf("server: %s", after)
	}

	return response, true, nil
}

// Set stores value under key.
func (c *Client) Set(key, value string) error {
	return c.expectOK(fmt.Sprintf("SET %s %s", key, value))
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(key string) error {
	return c.expectOK("DELETE " + key)
}

// Compact asks the server to compact its log.
func (c *Client) Compact() error {
	return c.expectOK("COMPACT")
}

// Close closes the connection.
func (c *Client) Close() error {
	closeErr := c.conn.Close()
	if closeErr != nil {
		return fmt.Errorf("close connection: %w", closeErr)
	}

	return nil
}

func (c *Client) expectOK(command string) error {
	response, doErr := c.Do(command)
	if doErr != nil {
		return doErr
	}

	if response != "OK" {
		return fmt.Errorf("server: %s", strings.TrimPrefix(response, "ERROR "))
	}

	return nil
}
