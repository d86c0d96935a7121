package relay

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"lowercases host", "wss://Relay.Example.COM", "wss://relay.example.com", false},
		{"strips bare trailing slash", "wss://relay.example.com/", "wss://relay.example.com", false},
		{"keeps non-trivial path", "wss://relay.example.com/nostr", "wss://relay.example.com/nostr", false},
		{"rejects http", "http://relay.example.com", "", true},
		{"rejects empty", "", "", true},
		{"rejects no host", "wss://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && string(got) != tt.want {
				t.Errorf("ParseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseURLEquality(t *testing.T) {
	a, err := ParseURL("wss://Relay.Example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseURL("wss://relay.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("expected canonicalized urls to be equal: %q != %q", a, b)
	}
}
