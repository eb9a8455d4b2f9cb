package transport

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bogdanfinn/tls-client/profiles"
)

// clientProfiles maps public impersonation profile names to tls-client
// fingerprint profiles. Edge versions map onto the Chromium profile they
// ship with; Edge has no distinct TLS fingerprint.
var clientProfiles = map[string]profiles.ClientProfile{
	"chrome_103": profiles.Chrome_103,
	"chrome_104": profiles.Chrome_104,
	"chrome_105": profiles.Chrome_105,
	"chrome_106": profiles.Chrome_106,
	"chrome_107": profiles.Chrome_107,
	"chrome_108": profiles.Chrome_108,
	"chrome_109": profiles.Chrome_109,
	"chrome_110": profiles.Chrome_110,
	"chrome_111": profiles.Chrome_111,
	"chrome_112": profiles.Chrome_112,
	"chrome_117": profiles.Chrome_117,
	"chrome_120": profiles.Chrome_120,
	"chrome_124": profiles.Chrome_124,
	"chrome_131": profiles.Chrome_131,
	"chrome_133": profiles.Chrome_133,
	"chrome_144": profiles.Chrome_144,
	"chrome_146": profiles.Chrome_146,

	"edge_122": profiles.Chrome_120,
	"edge_127": profiles.Chrome_124,
	"edge_131": profiles.Chrome_131,

	"firefox_102": profiles.Firefox_102,
	"firefox_105": profiles.Firefox_105,
	"firefox_106": profiles.Firefox_106,
	"firefox_108": profiles.Firefox_108,
	"firefox_110": profiles.Firefox_110,
	"firefox_117": profiles.Firefox_117,
	"firefox_120": profiles.Firefox_120,
	"firefox_123": profiles.Firefox_123,
	"firefox_132": profiles.Firefox_132,
	"firefox_133": profiles.Firefox_133,
	"firefox_135": profiles.Firefox_135,
	"firefox_147": profiles.Firefox_147,

	"safari_15.6.1":    profiles.Safari_15_6_1,
	"safari_16":        profiles.Safari_16_0,
	"safari_ios_15.5":  profiles.Safari_IOS_15_5,
	"safari_ios_15.6":  profiles.Safari_IOS_15_6,
	"safari_ios_16":    profiles.Safari_IOS_16_0,
	"safari_ios_17":    profiles.Safari_IOS_17_0,
	"safari_ios_18":    profiles.Safari_IOS_18_0,
	"safari_ipad_15.6": profiles.Safari_Ipad_15_6,

	"okhttp_android_7":  profiles.Okhttp4Android7,
	"okhttp_android_8":  profiles.Okhttp4Android8,
	"okhttp_android_9":  profiles.Okhttp4Android9,
	"okhttp_android_10": profiles.Okhttp4Android10,
	"okhttp_android_11": profiles.Okhttp4Android11,
	"okhttp_android_12": profiles.Okhttp4Android12,
	"okhttp_android_13": profiles.Okhttp4Android13,

	"opera_89": profiles.Opera_89,
	"opera_90": profiles.Opera_90,
	"opera_91": profiles.Opera_91,
}

// knownOS lists the accepted impersonate_os identifiers.
var knownOS = map[string]string{
	"windows": "Windows NT 10.0; Win64; x64",
	"macos":   "Macintosh; Intel Mac OS X 10_15_7",
	"linux":   "X11; Linux x86_64",
	"android": "Linux; Android 13; Pixel 7",
	"ios":     "iPhone; CPU iPhone OS 17_0 like Mac OS X",
}

// DefaultProfile is used when no impersonation profile is configured but the
// fingerprinting transport is requested anyway.
const DefaultProfile = "chrome_131"

// KnownProfile reports whether name is a registered impersonation profile.
func KnownProfile(name string) bool {
	_, ok := clientProfiles[strings.ToLower(name)]
	return ok
}

// KnownOS reports whether name is a registered impersonation OS.
func KnownOS(name string) bool {
	_, ok := knownOS[strings.ToLower(name)]
	return ok
}

// ProfileNames returns the registered profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(clientProfiles))
	for name := range clientProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OSNames returns the registered OS names, sorted.
func OSNames() []string {
	names := make([]string, 0, len(knownOS))
	for name := range knownOS {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupProfile(name string) (profiles.ClientProfile, error) {
	p, ok := clientProfiles[strings.ToLower(name)]
	if !ok {
		return profiles.ClientProfile{}, fmt.Errorf("unknown impersonation profile %q", name)
	}
	return p, nil
}

// userAgentFor builds the User-Agent string matching an impersonation profile
// and OS variant. The transport applies it only when the caller did not
// supply a User-Agent of their own.
func userAgentFor(profile, os string) string {
	platform, ok := knownOS[strings.ToLower(os)]
	if !ok {
		platform = knownOS["windows"]
	}

	name := strings.ToLower(profile)
	version := name[strings.LastIndexByte(name, '_')+1:]

	switch {
	case strings.HasPrefix(name, "chrome"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36", platform, version)
	case strings.HasPrefix(name, "edge"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36 Edg/%s.0.0.0", platform, version, version)
	case strings.HasPrefix(name, "opera"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 OPR/%s.0.0.0", platform, version)
	case strings.HasPrefix(name, "firefox"):
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s.0) Gecko/20100101 Firefox/%s.0", platform, version, version)
	case strings.HasPrefix(name, "safari_ios"), strings.HasPrefix(name, "safari_ipad"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1", knownOS["ios"], version)
	case strings.HasPrefix(name, "safari"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", knownOS["macos"], version)
	case strings.HasPrefix(name, "okhttp"):
		return fmt.Sprintf("okhttp/4.%s.0", version)
	default:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Safari/537.36", platform)
	}
}
