package transport

import (
	"strings"
	"testing"
)

func TestKnownProfile(t *testing.T) {
	t.Run("registered names", func(t *testing.T) {
		for _, name := range []string{"chrome_131", "firefox_135", "safari_ios_18", "okhttp_android_13", "edge_131"} {
			if !KnownProfile(name) {
				t.Errorf("KnownProfile(%q) = false, want true", name)
			}
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		if !KnownProfile("Chrome_131") {
			t.Error("KnownProfile should ignore case")
		}
	})

	t.Run("unknown names", func(t *testing.T) {
		for _, name := range []string{"", "chrome", "netscape_4", "chrome_1"} {
			if KnownProfile(name) {
				t.Errorf("KnownProfile(%q) = true, want false", name)
			}
		}
	})

	t.Run("default profile is registered", func(t *testing.T) {
		if !KnownProfile(DefaultProfile) {
			t.Errorf("DefaultProfile %q is not registered", DefaultProfile)
		}
	})
}

func TestKnownOS(t *testing.T) {
	for _, name := range []string{"windows", "macos", "linux", "android", "ios"} {
		if !KnownOS(name) {
			t.Errorf("KnownOS(%q) = false, want true", name)
		}
	}
	if KnownOS("msdos") {
		t.Error("KnownOS(msdos) = true, want false")
	}
}

func TestProfileNamesSorted(t *testing.T) {
	names := ProfileNames()
	if len(names) == 0 {
		t.Fatal("ProfileNames() returned nothing")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("ProfileNames() not sorted at %d: %q >= %q", i, names[i-1], names[i])
		}
	}
}

func TestUserAgentFor(t *testing.T) {
	testCases := []struct {
		profile string
		os      string
		want    []string
		not     []string
	}{
		{profile: "chrome_131", os: "windows", want: []string{"Chrome/131", "Windows NT"}},
		{profile: "chrome_131", os: "linux", want: []string{"Chrome/131", "Linux x86_64"}},
		{profile: "firefox_135", os: "macos", want: []string{"Firefox/135.0", "Mac OS X"}, not: []string{"Chrome"}},
		{profile: "edge_131", os: "windows", want: []string{"Edg/131"}},
		{profile: "safari_ios_17", os: "ios", want: []string{"iPhone", "Version/17"}},
		{profile: "okhttp_android_12", os: "android", want: []string{"okhttp/4."}},
	}

	for _, tc := range testCases {
		t.Run(tc.profile+"_"+tc.os, func(t *testing.T) {
			ua := userAgentFor(tc.profile, tc.os)
			for _, fragment := range tc.want {
				if !strings.Contains(ua, fragment) {
					t.Errorf("userAgentFor(%q, %q) = %q, missing %q", tc.profile, tc.os, ua, fragment)
				}
			}
			for _, fragment := range tc.not {
				if strings.Contains(ua, fragment) {
					t.Errorf("userAgentFor(%q, %q) = %q, should not contain %q", tc.profile, tc.os, ua, fragment)
				}
			}
		})
	}
}
