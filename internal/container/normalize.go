package container

import (
	"regexp"
	"strings"

	xerrors "PNCT-Query/internal/errors"
)

// ID 是规范化后的 11 位集装箱号，例如 CSQU3054383。
type ID string

func (id ID) String() string { return string(id) }

// Owner 返回 3 位船东代码。
func (id ID) Owner() string {
	if len(id) != 11 {
		return ""
	}
	return string(id[:3])
}

// Category 返回设备类别字母 (U/J/Z)。
func (id ID) Category() byte {
	if len(id) != 11 {
		return 0
	}
	return id[3]
}

// Serial 返回 6 位序列号。
func (id ID) Serial() string {
	if len(id) != 11 {
		return ""
	}
	return string(id[4:10])
}

var (
	// ErrNotFound 表示文本中没有任何形似集装箱号的片段。
	ErrNotFound = xerrors.New(xerrors.CodeContainerNotFound, "")
	// ErrInvalidContainerID 表示找到了候选号码但校验位全部不匹配。
	ErrInvalidContainerID = xerrors.New(xerrors.CodeInvalidContainerID, "")

	candidatePattern = regexp.MustCompile(`(?i)\b([A-Z]{3}[UJZ])[ -]?(\d{6})[ -]?(\d)\b`)
	letterValues     = buildLetterValues()
)

// buildLetterValues 按 ISO 6346 给字母赋值：从 10 开始，跳过 11 的倍数。
func buildLetterValues() map[byte]int {
	values := make(map[byte]int, 26)
	v := 10
	for c := byte('A'); c <= 'Z'; c++ {
		if v%11 == 0 {
			v++
		}
		values[c] = v
		v++
	}
	return values
}

// Normalize 在自由文本中查找集装箱号，返回第一个通过校验的候选。
// 没有候选时返回 ErrNotFound；存在候选但全部校验失败时返回 ErrInvalidContainerID。
func Normalize(text string) (ID, error) {
	candidates := Candidates(text)
	if len(candidates) == 0 {
		return "", ErrNotFound
	}
	for _, c := range candidates {
		if Validate(c) {
			return ID(c), nil
		}
	}
	return "", xerrors.New(xerrors.CodeInvalidContainerID, "", xerrors.WithMetadata("candidate", candidates[0]))
}

// Candidates 返回文本中所有形似集装箱号的片段（已去除分隔符并大写），保持出现顺序。
func Candidates(text string) []string {
	matches := candidatePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToUpper(m[1]+m[2]+m[3]))
	}
	return out
}

// Validate 判断 11 位号码的格式与校验位是否正确。
func Validate(id string) bool {
	if len(id) != 11 {
		return false
	}
	want, ok := CheckDigit(id[:10])
	if !ok {
		return false
	}
	return int(id[10]-'0') == want
}

// CheckDigit 计算前 10 位的校验位。格式不合法时 ok 为 false。
func CheckDigit(prefix string) (digit int, ok bool) {
	if len(prefix) != 10 {
		return 0, false
	}
	sum := 0
	weight := 1
	for i := 0; i < 10; i++ {
		c := prefix[i]
		var v int
		switch {
		case i < 4:
			lv, found := letterValues[c]
			if !found {
				return 0, false
			}
			if i == 3 && c != 'U' && c != 'J' && c != 'Z' {
				return 0, false
			}
			v = lv
		case c >= '0' && c <= '9':
			v = int(c - '0')
		default:
			return 0, false
		}
		sum += v * weight
		weight *= 2
	}
	return sum % 11 % 10, true
}
