package server

import "testing"

func TestBuildRedirectURL(t *testing.T) {
	tests := []struct {
		name   string
		uri    string
		params []RedirectParam
		want   string
	}{
		{
			name:   "code and state",
			uri:    "https://app/cb",
			params: []RedirectParam{{"code", "abc"}, {"state", "xyz"}},
			want:   "https://app/cb?code=abc&state=xyz",
		},
		{
			name:   "existing query",
			uri:    "https://app/cb?tenant=1",
			params: []RedirectParam{{"code", "abc"}},
			want:   "https://app/cb?tenant=1&code=abc",
		},
		{
			name:   "trailing question mark",
			uri:    "https://app/cb?",
			params: []RedirectParam{{"code", "abc"}},
			want:   "https://app/cb?code=abc",
		},
		{
			name:   "values are percent-encoded",
			uri:    "https://app/cb",
			params: []RedirectParam{{"code", "a/b+c"}, {"state", "x y&z=1"}},
			want:   "https://app/cb?code=a%2Fb%2Bc&state=x+y%26z%3D1",
		},
		{
			name:   "fragment stays last",
			uri:    "https://app/cb#section",
			params: []RedirectParam{{"code", "abc"}},
			want:   "https://app/cb?code=abc#section",
		},
		{
			name: "no params",
			uri:  "https://app/cb",
			want: "https://app/cb",
		},
		{
			name:   "custom scheme",
			uri:    "com.example.app:/oauth",
			params: []RedirectParam{{"code", "abc"}},
			want:   "com.example.app:/oauth?code=abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildRedirectURL(tt.uri, tt.params); got != tt.want {
				t.Errorf("BuildRedirectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeIssueResult_RedirectURL(t *testing.T) {
	result := &CodeIssueResult{
		RedirectURI: "https://app/cb",
		Code:        "abc",
		State:       "xyz",
		Params:      []RedirectParam{{"code", "abc"}, {"state", "xyz"}},
	}

	if got, want := result.RedirectURL(), "https://app/cb?code=abc&state=xyz"; got != want {
		t.Errorf("RedirectURL() = %q, want %q", got, want)
	}
}
