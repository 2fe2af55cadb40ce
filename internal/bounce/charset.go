package bounce

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// 退信中常见的字符编码，其余编码按WHATWG名称查找
var charsets = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"utf8":         unicode.UTF8,
	"utf-16":       unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"ascii":        charmap.Windows1252,
	"us-ascii":     charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"koi8-r":       charmap.KOI8R,
	"gb2312":       simplifiedchinese.GBK,
	"gbk":          simplifiedchinese.GBK,
	"gb18030":      simplifiedchinese.GB18030,
	"big5":         traditionalchinese.Big5,
	"shift_jis":    japanese.ShiftJIS,
	"iso-2022-jp":  japanese.ISO2022JP,
	"euc-jp":       japanese.EUCJP,
	"euc-kr":       korean.EUCKR,
}

func init() {
	message.CharsetReader = CharsetReader
}

// CharsetReader 将指定编码的内容转换为UTF-8
func CharsetReader(charset string, input io.Reader) (io.Reader, error) {
	name := strings.ToLower(strings.Trim(strings.TrimSpace(charset), `"`))
	if name == "" || name == "utf-8" || name == "utf8" {
		return input, nil
	}

	enc, ok := charsets[name]
	if !ok {
		var err error
		enc, err = htmlindex.Get(name)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset: %s", charset)
		}
	}
	return enc.NewDecoder().Reader(input), nil
}
