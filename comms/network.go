package comms

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// determineHost returns the host name other processes should use to reach
// this one, and whether that host is loopback only.
func determineHost() (string, bool) {
	if hostname, ok := os.LookupEnv("MVSIM_HOSTNAME"); ok {
		return hostname, hostname == "localhost"
	}
	if ip, ok := os.LookupEnv("MVSIM_IP"); ok {
		return ip, ip == "::1" || strings.HasPrefix(ip, "127.")
	}
	// The bus is local by default.
	return "127.0.0.1", true
}

func listenIP(onlyLocalhost bool) string {
	if onlyLocalhost {
		return "127.0.0.1"
	}
	return "0.0.0.0"
}

// listenRandomPort listens on an ephemeral port and returns the listener
// together with the address to advertise for it.
func listenRandomPort() (net.Listener, string, error) {
	host, local := determineHost()
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", listenIP(local)))
	if err != nil {
		return nil, "", err
	}
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		listener.Close()
		return nil, "", err
	}
	return listener, net.JoinHostPort(host, port), nil
}
