package resultstore

import "testing"

func TestFormatURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "unix absolute path",
			input: "/var/lib/llamafarm/result_store",
			want:  "file:///var/lib/llamafarm/result_store",
		},
		{
			name:  "windows drive letter",
			input: `C:\Users\dev\project\result_store`,
			want:  "file:///C:/Users/dev/project/result_store",
		},
		{
			name:  "windows forward slashes",
			input: "D:/data/store",
			want:  "file:///D:/data/store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatURL(tt.input)
			if got != tt.want {
				t.Errorf("FormatURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "unix file url",
			input: "file:///var/lib/llamafarm/result_store",
			want:  "/var/lib/llamafarm/result_store",
		},
		{
			name:  "windows drive letter url",
			input: "file:///C:/Users/dev/result_store",
			want:  "C:/Users/dev/result_store",
		},
		{
			name:  "plain path passes through",
			input: "/tmp/store",
			want:  "/tmp/store",
		},
		{
			name:  "backslashes normalized",
			input: `file:///C:\Users\dev\store`,
			want:  "C:/Users/dev/store",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestURLRoundTrip(t *testing.T) {
	paths := []string{
		"/var/lib/llamafarm/result_store",
		"C:/Users/dev/result_store",
	}
	for _, p := range paths {
		got, err := ParseURL(FormatURL(p))
		if err != nil {
			t.Fatalf("round trip of %q failed: %v", p, err)
		}
		if got != p {
			t.Errorf("round trip of %q = %q", p, got)
		}
	}
}
