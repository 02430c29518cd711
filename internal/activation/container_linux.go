// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package activation

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// cgroup memory-limit paths, tried in order: v2 first (the modern default
// on current distros), falling back to v1 for older hosts. Resolves the
// Open Question left by the source implementation, which straddled both
// without a documented precedence.
var memoryLimitPaths = []string{
	"/sys/fs/cgroup/memory.max",
	"/sys/fs/cgroup/memory/memory.limit_in_bytes",
}

var osReleasePaths = []string{
	"/etc/os-release",
	"/usr/lib/os-release",
}

// readContainerInfo fills in the container-derived identity fields.
// All file errors are swallowed: the container probe is best-effort.
func readContainerInfo(id *Identity) {
	id.ContainerMemorySize = readMemoryLimit()
	osName, version := readOSRelease()
	id.ContainerOS = osName
	id.ContainerOSVersion = version
}

func readMemoryLimit() int64 {
	for _, path := range memoryLimitPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		value := strings.TrimSpace(string(data))
		if value == "max" {
			continue
		}
		limit, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		return limit
	}
	return 0
}

func readOSRelease() (osName, version string) {
	for _, path := range osReleasePaths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		osName, version = parseOSRelease(f)
		f.Close()
		if osName != "" {
			return osName, version
		}
	}
	return "", ""
}

func parseOSRelease(f *os.File) (osName, version string) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "ID="):
			osName = unquote(strings.TrimPrefix(line, "ID="))
		case strings.HasPrefix(line, "VERSION_ID="):
			version = unquote(strings.TrimPrefix(line, "VERSION_ID="))
		}
	}
	return osName, version
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
