package trace

// ============================================================================
// 校驗和計算
// 職責：計算與驗證事件的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
	"strings"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 演算法：
// - 將 Checksum 以外的所有欄位以 '|' 串接
// - 使用 CRC32-IEEE 多項式計算
func CalculateChecksum(e Event) uint32 {
	var b strings.Builder
	b.WriteString(string(e.Type))
	for _, v := range []int64{int64(e.Seq), int64(e.Worker), int64(e.Task), int64(e.Step), e.Timestamp} {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('|')
	b.WriteString(e.Run)
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// VerifyChecksum 驗證事件的校驗和
//
// 回傳：
//
//	nil 或 *ChecksumError
func VerifyChecksum(e Event) error {
	expected := CalculateChecksum(e)
	if e.Checksum != expected {
		return &ChecksumError{Seq: e.Seq, Expected: expected, Actual: e.Checksum}
	}
	return nil
}
