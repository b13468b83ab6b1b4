package pathset

import "testing"

func TestSet_Contains(t *testing.T) {
	s := New()
	s.Add("/path/to/file")
	s.Add("/path/to/dir/")
	s.Add("/path/to/dir/*")

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Exact match", "/path/to/file", true},
		{"Subtree match", "/path/to/dir/sub/deep", true},
		{"Wildcard match", "/path/to/dir/child", true},
		{"Parent not matched", "/path/to", false},
		{"Non-existent path", "/non/existent/path", false},
		{"Root not matched", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Contains(tt.input); got != tt.expected {
				t.Errorf("Contains(%q) = %v; expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSet_Root(t *testing.T) {
	s := New()
	s.Add("/")
	if !s.Contains("/") {
		t.Error("Contains(\"/\") = false after Add(\"/\")")
	}
	if !s.Contains("/anything/at/all") {
		t.Error("root pattern should match every path")
	}
	if s.Empty() {
		t.Error("Empty() = true after Add(\"/\")")
	}
}

func TestSet_AddRange(t *testing.T) {
	s := New()
	s.AddRange([]string{"/abs/file", "rel/dir"}, "/work")

	if !s.Contains("/abs/file") {
		t.Error("absolute pattern not matched")
	}
	if !s.Contains("/work/rel/dir/inside") {
		t.Error("relative pattern should anchor at workPath and match the subtree")
	}
}

func TestFilter_IsManaged(t *testing.T) {
	f := NewFilter([]string{"/app/", "/etc/hosts"}, []string{"/app/cache/"})

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Managed subtree", "/app/config.yaml", true},
		{"Managed exact", "/etc/hosts", true},
		{"Local override wins", "/app/cache/blob", false},
		{"Proc is local", "/proc/self/status", false},
		{"Sys is local", "/sys/kernel/ostype", false},
		{"Dev is local", "/dev/null", false},
		{"Unlisted path", "/usr/lib/libc.so", false},
		{"Relative never managed", "relative/path", false},
		{"Uncleaned path", "/app/../app/config.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.IsManaged(tt.input); got != tt.expected {
				t.Errorf("IsManaged(%q) = %v; expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFilter_EmptyManagedSet(t *testing.T) {
	f := NewFilter(nil, nil)

	if !f.IsManaged("/etc/hosts") {
		t.Error("empty managed set should manage paths outside local overrides")
	}
	if f.IsManaged("/proc/cpuinfo") {
		t.Error("default local overrides must stay local")
	}
}
