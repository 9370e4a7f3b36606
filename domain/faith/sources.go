// Package faith Quran、Hadith、Dua 跨源搜索与 azkar 列表
package faith

import (
	core "hayatos/data/db"
	"hayatos/data/query"
	"hayatos/data/source/sqlsource"
)

const (
	SourceQuran  query.SourceID = "quran"
	SourceHadith query.SourceID = "hadith"
	SourceDua    query.SourceID = "dua"
	SourceAzkar  query.SourceID = "azkar"
)

// SearchOrder 可搜索的来源，types 缺省时全部参与
var SearchOrder = []query.SourceID{SourceQuran, SourceHadith, SourceDua}

var (
	QuranTable = sqlsource.Table{
		Name:    "quran_verses",
		Columns: []string{"id", "surah", "ayah", "surah_name", "text_arabic", "translation", "transliteration"},
	}
	HadithTable = sqlsource.Table{
		Name:    "hadiths",
		Columns: []string{"id", "collection", "book", "number", "narrator", "text_arabic", "translation", "grade"},
	}
	DuaTable = sqlsource.Table{
		Name:    "duas",
		Columns: []string{"id", "title", "category", "text_arabic", "translation", "reference"},
	}
	AzkarTable = sqlsource.Table{
		Name:    "azkar",
		Columns: []string{"id", "category", "time_of_day", "title", "text_arabic", "translation", "repeat_count", "reference"},
	}
)

// searchFields 每个来源参与子串匹配的列
var searchFields = map[query.SourceID][]string{
	SourceQuran:  {"surah_name", "translation", "transliteration", "text_arabic"},
	SourceHadith: {"collection", "narrator", "translation", "text_arabic"},
	SourceDua:    {"title", "category", "translation", "text_arabic"},
}

// Sources 模块依赖的数据源，可替换为带缓存或内存实现
type Sources struct {
	Quran  query.Source
	Hadith query.Source
	Dua    query.Source
	Azkar  query.Source
}

// NewSQLSources 基于数据库表的数据源
func NewSQLSources(db core.IDatabase) Sources {
	return Sources{
		Quran:  sqlsource.New(db, QuranTable),
		Hadith: sqlsource.New(db, HadithTable),
		Dua:    sqlsource.New(db, DuaTable),
		Azkar:  sqlsource.New(db, AzkarTable),
	}
}

func (s Sources) byID(id query.SourceID) query.Source {
	switch id {
	case SourceQuran:
		return s.Quran
	case SourceHadith:
		return s.Hadith
	case SourceDua:
		return s.Dua
	case SourceAzkar:
		return s.Azkar
	}
	return nil
}
