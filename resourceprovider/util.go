package resourceprovider

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/KonstantinTomashevich/Kan-sub009/reflection"
)

func putString(buf []byte, field reflection.Field, s string) {
	region := buf[field.Offset : field.Offset+field.Size]
	n := copy(region, s)
	for i := n; i < len(region); i++ {
		region[i] = 0
	}
}

func getString(buf []byte, field reflection.Field) string {
	region := buf[field.Offset : field.Offset+field.Size]
	n := len(region)
	for n > 0 && region[n-1] == 0 {
		n--
	}
	return string(region[:n])
}

func putInt32(buf []byte, field reflection.Field, v int32) {
	region := buf[field.Offset : field.Offset+field.Size]
	for i := range region {
		region[i] = byte(v >> (8 * uint(i)))
	}
}

func getInt32(buf []byte, field reflection.Field) int32 {
	region := buf[field.Offset : field.Offset+field.Size]
	var v int32
	for i := len(region) - 1; i >= 0; i-- {
		v = v<<8 | int32(region[i])
	}
	return v
}

func putInt64(buf []byte, field reflection.Field, v int64) {
	region := buf[field.Offset : field.Offset+field.Size]
	for i := range region {
		region[i] = byte(v >> (8 * uint(i)))
	}
}

func getInt64(buf []byte, field reflection.Field) int64 {
	region := buf[field.Offset : field.Offset+field.Size]
	var v int64
	for i := len(region) - 1; i >= 0; i-- {
		v = v<<8 | int64(region[i])
	}
	return v
}

func putBool(buf []byte, field reflection.Field, b bool) {
	if b {
		buf[field.Offset] = 1
	} else {
		buf[field.Offset] = 0
	}
}

func getBool(buf []byte, field reflection.Field) bool {
	return buf[field.Offset] != 0
}

func mustField(desc *reflection.StructDescription, name string) reflection.Field {
	f, ok := desc.FieldByName(name)
	if !ok {
		panic("resourceprovider: schema missing field " + name)
	}
	return f
}

// hashFile returns the hex-encoded sha256 of a file's content, matching the
// content-hash convention resourcebuild.Scan uses for build entries.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
