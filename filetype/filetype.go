package filetype

import "strings"

// Category classifies a file by its name. It decides how much storage is reserved for a file when it is created and
// is persisted in the flags of every block of the file's chain.
type Category uint8

const (
	Normal Category = iota
	InstallDescriptor
	Archive
	Settings
	AppProperties
	InstallInfo
	RecordStore
	InstallTemp
	DeleteNotify
	SuiteList

	numCategories
)

const (
	smallFileSize   = 0x800  // 2K
	installInfoSize = 0x400  // 1K
	appPropsSize    = 0x1800 // 6K
	installTempSize = 0xF000 // 60K
)

var suffixes = map[string]Category{
	".jad": InstallDescriptor,
	".jar": Archive,
	".ss":  Settings,
	".ap":  AppProperties,
	".ii":  InstallInfo,
	".db":  RecordStore,
	".dbx": RecordStore,
	".tmp": InstallTemp,
}

var prealloc = [numCategories]int{
	InstallDescriptor: smallFileSize,
	Settings:          smallFileSize,
	AppProperties:     appPropsSize,
	InstallInfo:       installInfoSize,
	RecordStore:       smallFileSize,
	InstallTemp:       installTempSize,
	DeleteNotify:      smallFileSize,
	SuiteList:         smallFileSize,
}

var categoryNames = [numCategories]string{
	Normal:            "normal",
	InstallDescriptor: "install-descriptor",
	Archive:           "archive",
	Settings:          "settings",
	AppProperties:     "app-properties",
	InstallInfo:       "install-info",
	RecordStore:       "record-store",
	InstallTemp:       "install-temp",
	DeleteNotify:      "delete-notify",
	SuiteList:         "suite-list",
}

const (
	deleteNotifyTail = "delete_notify.dat"
	suiteListTail    = "_suites.dat"
)

// Classify derives the category of a file from its name. Suffix table is consulted first, then the two marker file
// conventions, falling back to Normal. A name without any '.' is always Normal.
func Classify(name string) Category {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return Normal
	}

	if c, ok := suffixes[name[dot:]]; ok {
		return c
	}

	// marker tails are anchored on the last '_' of the name
	us := strings.LastIndexByte(name, '_')
	if us > len("delete") && name[us-len("delete"):] == deleteNotifyTail {
		return DeleteNotify
	}

	if us >= 0 && name[us:] == suiteListTail {
		return SuiteList
	}

	return Normal
}

// Prealloc returns the size of the first block requested on creation, 0 if the category does not pre-allocate.
func (c Category) Prealloc() int {
	if !c.Valid() {
		return 0
	}
	return prealloc[c]
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c < numCategories
}

func (c Category) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return categoryNames[c]
}
