package objectclient

import "testing"

func TestPublicURL(t *testing.T) {
	c := &S3Client{region: "us-east-2"}
	tests := []struct {
		key, want string
	}{
		{"users/u1/documents/d1/receipt.png", "https://docs.s3.us-east-2.amazonaws.com/users/u1/documents/d1/receipt.png"},
		{"users/u1/documents/d1/my receipt#1.png", "https://docs.s3.us-east-2.amazonaws.com/users/u1/documents/d1/my%20receipt%231.png"},
	}
	for _, tt := range tests {
		if got := c.PublicURL("docs", tt.key); got != tt.want {
			t.Errorf("PublicURL(%q) = %s, want %s", tt.key, got, tt.want)
		}
	}
}
