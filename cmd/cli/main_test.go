package main

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "https://exa...", truncate("https://example.com/file.bin", 14))

	cut := truncate("http://例子.测试/下载文件.zip", 8)
	assert.Equal(t, "http:...", cut)
	cut = truncate("例子测试下载文件", 6)
	assert.Equal(t, "例子测...", cut)
	assert.True(t, utf8.ValidString(cut))

	assert.Equal(t, "例子", truncate("例子测试", 2))
}
