package tools

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("MB_TEST_STR", "x")
	t.Setenv("MB_TEST_INT", "42")
	t.Setenv("MB_TEST_BAD", "4x2")
	t.Setenv("MB_TEST_BOOL", " Yes ")

	if GetEnv("MB_TEST_STR", "d") != "x" || GetEnv("MB_TEST_UNSET", "d") != "d" {
		t.Fatal("GetEnv")
	}
	if GetEnvInt("MB_TEST_INT", 1) != 42 || GetEnvInt("MB_TEST_BAD", 1) != 1 || GetEnvInt("MB_TEST_UNSET", 7) != 7 {
		t.Fatal("GetEnvInt")
	}
	if !GetEnvBool("MB_TEST_BOOL", false) || !GetEnvBool("MB_TEST_UNSET", true) || GetEnvBool("MB_TEST_STR", true) {
		t.Fatal("GetEnvBool")
	}
}
