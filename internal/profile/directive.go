package profile

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// RemoteHost returns the host of the first remote directive.
func RemoteHost(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "remote" {
			continue
		}
		return fields[1], nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrNoRemote
}

// RemoteHostFile reads the first remote host of the profile at path.
func RemoteHostFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return RemoteHost(f)
}

// ServesDomain reports whether a remote directive of the profile points at
// domain.
func ServesDomain(r io.Reader, domain string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "remote") && strings.Contains(line, domain) {
			return true, nil
		}
	}
	return false, scanner.Err()
}
