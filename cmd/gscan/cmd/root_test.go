package cmd

import (
	"testing"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"123", 0x123, false},
		{"0x7DF", 0x7DF, false},
		{"0X7e8", 0x7E8, false},
		{"18DAF110", 0x18DAF110, false},
		{"1FFFFFFF", 0x1FFFFFFF, false},
		{"20000000", 0, true},
		{"xyz", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseID(%q) = %X, want %X", tt.in, got, tt.want)
			}
		})
	}
}

func TestAdapterConfigFlags(t *testing.T) {
	if err := rootCmd.ParseFlags([]string{"-b", "250", "-l", "--filter", "7e8,0x258", "--min-fw", "2"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := adapterConfig(rootCmd)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CANRate != 250 || !cfg.ListenOnly || cfg.MinimumFirmwareVersion != "2" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.CANFilter) != 2 || cfg.CANFilter[0] != 0x7E8 || cfg.CANFilter[1] != 0x258 {
		t.Errorf("CANFilter = %X", cfg.CANFilter)
	}
}
