package mrl

import "testing"

func TestEncodeLocalWindowsDrive(t *testing.T) {
	got := EncodeLocal(`C:\Users\me\My Movies\film.mkv`)
	want := "file:///C:/Users/me/My%20Movies/film.mkv"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEncodeLocalUnix(t *testing.T) {
	got := EncodeLocal("/mnt/media/My Movies/film.mkv")
	want := "file:///mnt/media/My%20Movies/film.mkv"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"file:///mnt/media/My%20Movies/film.mkv",
		"smb://user@host/share/movies",
		"file:///C:/Users/me/film.mkv",
	}
	for _, m := range cases {
		scheme, host, port, p, err := Decode(m)
		if err != nil {
			t.Fatalf("decode %q: %v", m, err)
		}
		got := Encode(scheme, host, port, p)
		if got != m {
			t.Errorf("round trip %q -> %q, want original", m, got)
		}
	}
}

func TestScheme(t *testing.T) {
	if Scheme("smb://host/a") != "smb" {
		t.Fatal("wrong scheme")
	}
	if Scheme("not-a-mrl") != "" {
		t.Fatal("expected empty scheme")
	}
}

func TestMatchesMountpointDefaultPort(t *testing.T) {
	n := MatchesMountpoint("smb://HOST:445/Share/movies/film.mkv", "smb://host/share")
	if n < 0 {
		t.Fatal("expected match with default SMB port treated as absent")
	}
}

func TestMatchesMountpointCaseInsensitive(t *testing.T) {
	n := MatchesMountpoint("smb://host/SHARE/Movies/a.mkv", "smb://HOST/share")
	if n != 1 {
		t.Fatalf("expected prefix length 1, got %d", n)
	}
}

func TestMatchesMountpointLongestPrefixDisambiguation(t *testing.T) {
	candidate := "smb://host/share/sub/deep/file.mkv"
	outer := MatchesMountpoint(candidate, "smb://host/share")
	inner := MatchesMountpoint(candidate, "smb://host/share/sub")
	if !(inner > outer) {
		t.Fatalf("expected inner mountpoint to have a longer prefix match: outer=%d inner=%d", outer, inner)
	}
}

func TestMatchesMountpointNoMatch(t *testing.T) {
	if MatchesMountpoint("smb://other/share/a.mkv", "smb://host/share") != -1 {
		t.Fatal("expected no match across different hosts")
	}
}
