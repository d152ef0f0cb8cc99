package profile

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/qprofile/internal/backend"
)

const (
	arnPrimaryA   = "arn:aws:codewhisperer:us-east-1:111111111111:profile/AAAAAAAAAAAA"
	arnPrimaryB   = "arn:aws:codewhisperer:us-east-1:222222222222:profile/BBBBBBBBBBBB"
	arnSecondaryC = "arn:aws:codewhisperer:eu-central-1:333333333333:profile/CCCCCCCCCCCC"
)

func TestParseARN(t *testing.T) {
	tests := []struct {
		name  string
		arn   string
		want  ARN
		valid bool
	}{
		{name: "primary", arn: arnPrimaryA, want: ARN{Region: "us-east-1", AccountID: "111111111111", ProfileID: "AAAAAAAAAAAA"}, valid: true},
		{name: "secondary", arn: arnSecondaryC, want: ARN{Region: "eu-central-1", AccountID: "333333333333", ProfileID: "CCCCCCCCCCCC"}, valid: true},
		{name: "dotted region", arn: "arn:aws:codewhisperer:us.gov-1:123456789012:profile/abcDEF123456", want: ARN{Region: "us.gov-1", AccountID: "123456789012", ProfileID: "abcDEF123456"}, valid: true},
		{name: "empty", arn: ""},
		{name: "not an arn", arn: "profile/AAAAAAAAAAAA"},
		{name: "wrong partition", arn: "arn:aws-cn:codewhisperer:us-east-1:111111111111:profile/AAAAAAAAAAAA"},
		{name: "wrong service", arn: "arn:aws:q:us-east-1:111111111111:profile/AAAAAAAAAAAA"},
		{name: "short account", arn: "arn:aws:codewhisperer:us-east-1:11111111111:profile/AAAAAAAAAAAA"},
		{name: "alpha account", arn: "arn:aws:codewhisperer:us-east-1:11111111111a:profile/AAAAAAAAAAAA"},
		{name: "uppercase region", arn: "arn:aws:codewhisperer:US-EAST-1:111111111111:profile/AAAAAAAAAAAA"},
		{name: "empty region", arn: "arn:aws:codewhisperer::111111111111:profile/AAAAAAAAAAAA"},
		{name: "short profile id", arn: "arn:aws:codewhisperer:us-east-1:111111111111:profile/AAAA"},
		{name: "long profile id", arn: "arn:aws:codewhisperer:us-east-1:111111111111:profile/AAAAAAAAAAAAA"},
		{name: "wrong resource type", arn: "arn:aws:codewhisperer:us-east-1:111111111111:customization/AAAAAAAAAAAA"},
		{name: "trailing junk", arn: arnPrimaryA + "/x"},
		{name: "extra colon", arn: "arn:aws:codewhisperer:us-east-1:111111111111:profile/AAAAAA:AAAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseARN(tt.arn)
			if !tt.valid {
				require.ErrorIs(t, err, ErrInvalidProfileARN)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParse_EndpointFromARNRegion(t *testing.T) {
	endpoints := DefaultEndpoints()
	recs := []backend.ProfileRecord{
		{ARN: arnSecondaryC, ProfileName: "fra"},
		{ARN: "garbage", ProfileName: "bad"},
		{ARN: "arn:aws:codewhisperer:ap-south-1:444444444444:profile/DDDDDDDDDDDD", ProfileName: "elsewhere"},
	}

	got := Parse(recs, endpoints, endpoints[0])
	require.Equal(t, []Profile{
		{Name: "fra", AccountID: "333333333333", Region: "eu-central-1", ARN: arnSecondaryC, Endpoint: endpoints[1].URL},
		{Name: "elsewhere", AccountID: "444444444444", Region: "ap-south-1", ARN: "arn:aws:codewhisperer:ap-south-1:444444444444:profile/DDDDDDDDDDDD", Endpoint: endpoints[0].URL},
	}, got)
}

var (
	regionGen    = rapid.StringMatching(`[-.a-z0-9]{1,63}`)
	accountGen   = rapid.StringMatching(`[0-9]{12}`)
	profileIDGen = rapid.StringMatching(`[a-zA-Z0-9]{12}`)
)

func TestParse_ValidARNsAlwaysIncluded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		region := regionGen.Draw(t, "region")
		account := accountGen.Draw(t, "account")
		id := profileIDGen.Draw(t, "id")
		raw := fmt.Sprintf("arn:aws:codewhisperer:%s:%s:profile/%s", region, account, id)

		got := Parse([]backend.ProfileRecord{{ARN: raw, ProfileName: "p"}}, DefaultEndpoints(), DefaultEndpoints()[0])
		if len(got) != 1 {
			t.Fatalf("valid ARN %q was dropped", raw)
		}
		if got[0].Region != region || got[0].AccountID != account || got[0].ARN != raw {
			t.Fatalf("fields not taken from ARN: %+v", got[0])
		}
	})
}

// mutate corrupts one part of a valid ARN.
func mutate(t *rapid.T, region, account, id string) string {
	switch rapid.IntRange(0, 6).Draw(t, "mutation") {
	case 0:
		account = account[:rapid.IntRange(0, 11).Draw(t, "accountLen")]
	case 1:
		account = account[:11] + rapid.SampledFrom([]string{"a", "Z", "-", " "}).Draw(t, "accountChar")
	case 2:
		id = id[:rapid.IntRange(0, 11).Draw(t, "idLen")]
	case 3:
		id += rapid.StringMatching(`[a-zA-Z0-9]{1,4}`).Draw(t, "idSuffix")
	case 4:
		region = strings.ToUpper(region) + "X"
	case 5:
		return "arn:aws:" + rapid.SampledFrom([]string{"q", "codeguru", "iam"}).Draw(t, "service") +
			":" + region + ":" + account + ":profile/" + id
	default:
		return "arn:aws:codewhisperer:" + region + ":" + account + ":" +
			rapid.SampledFrom([]string{"customization/", "profile:", "profiles/"}).Draw(t, "resource") + id
	}
	return fmt.Sprintf("arn:aws:codewhisperer:%s:%s:profile/%s", region, account, id)
}

func TestParse_MalformedARNsExcluded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := mutate(t, regionGen.Draw(t, "region"), accountGen.Draw(t, "account"), profileIDGen.Draw(t, "id"))

		got := Parse([]backend.ProfileRecord{{ARN: raw, ProfileName: "p"}}, DefaultEndpoints(), DefaultEndpoints()[0])
		if len(got) != 0 {
			t.Fatalf("malformed ARN %q produced %+v", raw, got)
		}
	})
}

func TestParse_ArbitraryInputNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.String().Draw(t, "arn")
		got := Parse([]backend.ProfileRecord{{ARN: raw}}, DefaultEndpoints(), DefaultEndpoints()[0])
		_, err := ParseARN(raw)
		if (err == nil) != (len(got) == 1) {
			t.Fatalf("Parse and ParseARN disagree on %q", raw)
		}
	})
}
