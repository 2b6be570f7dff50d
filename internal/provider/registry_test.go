package provider

import "testing"

func TestIsSupportedType(t *testing.T) {
	t.Parallel()
	if !IsSupportedType("openai") {
		t.Fatal("openai should be supported")
	}
	if !IsSupportedType("openai-compatible") {
		t.Fatal("openai-compatible should be supported")
	}
	if IsSupportedType("anthropic") {
		t.Fatal("anthropic is out of scope and should not be supported")
	}
}

func TestGetDefaults_UnsupportedTypeErrors(t *testing.T) {
	t.Parallel()
	if _, err := GetDefaults("bogus"); err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}

func TestResolveChatURL_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()
	d, _ := GetDefaults("openai")
	got := ResolveChatURL("https://api.openai.com/v1/", d)
	want := "https://api.openai.com/v1/chat/completions"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("empty string estimate = %d, want 0", got)
	}
	// 7 chars / 3.5 = 2 tokens exactly.
	if got := EstimateTokens("abcdefg"); got != 2 {
		t.Fatalf("estimate = %d, want 2", got)
	}
}

func TestEstimateMessageTokens_Sums(t *testing.T) {
	t.Parallel()
	got := EstimateMessageTokens([]string{"abcdefg", "abcdefg"})
	if got != 4 {
		t.Fatalf("got %d, want 4", got)
	}
}
