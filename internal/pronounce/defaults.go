package pronounce

// DefaultRules is the built-in reading table for the quiz narrative. Order is
// significant: earlier rules win where keys overlap.
var DefaultRules = []Rule{
	{Key: "源頼朝", Reading: "源頼朝みなもとのよりとも"},
	{Key: "征夷大将軍", Reading: "せいいたいしょうぐん"},
	{Key: "趣", Reading: "おもむき"},
	{Key: "浪人生", Reading: "ろうにんせい"},
	{Key: "板垣政参", Reading: "いたがきまさみつ"},
	{Key: "瑞宝中綬章", Reading: "ずいほうちゅうじゅしょう"},
	{Key: "裏店", Reading: "うらみせ"},
	{Key: "肉飯", Reading: "にくめし"},
	{Key: "男く祭", Reading: "おとこくさい"},
	{Key: "芙蓉", Reading: "ふよう"},
	{Key: "西鉄", Reading: "にしてつ"},
	{Key: "久留米", Reading: "くるめ"},
	{Key: "チーム1", Reading: "チームいち"},
	{Key: "チーム2", Reading: "チームに"},
	{Key: "チーム3", Reading: "チームさん"},
	{Key: "チーム4", Reading: "チームよん"},
	{Key: "チーム5", Reading: "チームご"},
	{Key: "1192", Reading: "せんひゃくきゅうじゅうに"},
	{Key: "2005", Reading: "にせんご"},
	{Key: "1968", Reading: "せんきゅうひゃくろうじゅうはち"},
	{Key: "吉川敦", Reading: "よしかわあつし"},
	{Key: "黒水", Reading: "くろうず"},
	{Key: "七福神", Reading: "しちふくじん"},
	{Key: "満々", Reading: "まんまん"},
	{Key: "松下由依", Reading: "まつしたゆい"},
	{Key: "勝連", Reading: "かつれん"},
	{Key: "小林", Reading: "こばやし"},
	{Key: "松雪", Reading: "まつゆき"},
	{Key: "中島", Reading: "なかじま"},
	{Key: "山本", Reading: "やまもと"},
	{Key: "上坂元", Reading: "かみさかもと"},
	{Key: "秋本", Reading: "あきもと"},
	{Key: "松浦", Reading: "まつうら"},
	{Key: "田中", Reading: "たなか"},
	{Key: "吉開", Reading: "よしかい"},
	{Key: "年", Reading: "ねん"},
	{Key: "織田信長", Reading: "おだのぶなが"},
	{Key: "町田", Reading: "まちだ"},
	{Key: "情け", Reading: "なさけ"},
	{Key: "三権分立", Reading: "さんけんぶんりつ"},
	{Key: "県花", Reading: "けんか"},
}

// Default returns a Table built from [DefaultRules].
func Default() *Table {
	return NewTable(DefaultRules)
}
