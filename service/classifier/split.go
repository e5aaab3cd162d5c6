/*
 * @module service/classifier/split
 * @description 按标签分层的训练/测试划分，固定随机种子保证可复现
 * @architecture 纯函数
 * @documentReference DESIGN.md
 * @stateFlow labels -> 各类别样本 -> 按比例分配测试名额 -> 类内洗牌 -> (train, test) 下标
 * @rules
 *   - 只有一个类别时返回 ErrDegenerateLabels
 *   - 任一类别少于 2 个样本或划分后某侧为空时返回 ErrCannotStratify
 * @dependencies math/rand
 * @refs service/classifier/train.go
 */

package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

var (
	// ErrDegenerateLabels 标签只有一个类别，无法训练二分类模型
	ErrDegenerateLabels = errors.New("标签分布退化：只有一个类别")
	// ErrCannotStratify 样本不足以完成分层划分
	ErrCannotStratify = errors.New("无法进行分层划分")
)

// ClassCounts 统计 0/1 标签个数，出现其他取值时报错
func ClassCounts(labels []int) ([2]int, error) {
	var counts [2]int
	for i, l := range labels {
		if l != 0 && l != 1 {
			return counts, fmt.Errorf("第 %d 个标签取值 %d 不是 0/1", i, l)
		}
		counts[l]++
	}
	return counts, nil
}

// StratifiedSplit 分层划分，返回升序的训练集与测试集下标
func StratifiedSplit(labels []int, testFraction float64, seed int64) ([]int, []int, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("测试集比例必须在 (0,1) 内: %v", testFraction)
	}
	counts, err := ClassCounts(labels)
	if err != nil {
		return nil, nil, err
	}
	if counts[0] == 0 || counts[1] == 0 {
		return nil, nil, fmt.Errorf("%w: 0 类 %d 个, 1 类 %d 个", ErrDegenerateLabels, counts[0], counts[1])
	}
	for class, c := range counts {
		if c < 2 {
			return nil, nil, fmt.Errorf("%w: 类别 %d 只有 %d 个样本", ErrCannotStratify, class, c)
		}
	}

	n := len(labels)
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest < 2 || n-nTest < 2 {
		return nil, nil, fmt.Errorf("%w: %d 个样本无法按 %.2f 划分", ErrCannotStratify, n, testFraction)
	}

	quota := allocate(counts, nTest, n)

	members := [2][]int{}
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	rng := rand.New(rand.NewSource(seed))
	var train, test []int
	for class := 0; class < 2; class++ {
		perm := rng.Perm(len(members[class]))
		for k, p := range perm {
			if k < quota[class] {
				test = append(test, members[class][p])
			} else {
				train = append(train, members[class][p])
			}
		}
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// allocate 按类别比例分配测试名额（最大余数法），每个类别两侧至少各保留一个
func allocate(counts [2]int, nTest, n int) [2]int {
	var quota [2]int
	var rem [2]float64
	assigned := 0
	for c := 0; c < 2; c++ {
		exact := float64(nTest) * float64(counts[c]) / float64(n)
		quota[c] = int(math.Floor(exact))
		rem[c] = exact - float64(quota[c])
		assigned += quota[c]
	}
	for assigned < nTest {
		pick := 0
		if rem[1] > rem[0] || (rem[1] == rem[0] && counts[1] > counts[0]) {
			pick = 1
		}
		quota[pick]++
		rem[pick] = -1
		assigned++
	}
	for c := 0; c < 2; c++ {
		if quota[c] < 1 {
			quota[c] = 1
		}
		if quota[c] > counts[c]-1 {
			quota[c] = counts[c] - 1
		}
	}
	return quota
}
