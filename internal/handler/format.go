package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"reward-bot/internal/model"
	"reward-bot/internal/service"
)

const divider = "━━━━━━━━━━━━━━━"

// senderName returns the @username, falling back to the first name.
func senderName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}

// formatCountdown renders a duration as 时/分/秒.
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%d小时%d分%d秒", hours, minutes, seconds)
}

// formatSpinResult renders a resolved spin.
func formatSpinResult(username string, res *service.SpinResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "@%s 🎡 转盘停在 %d 号格\n", username, res.Segment)
	switch res.Outcome {
	case service.OutcomeWon:
		fmt.Fprintf(&b, "🎊 恭喜！获得 %d 积分", res.PointsWon)
		if res.Credited {
			fmt.Fprintf(&b, "\n💰 当前积分: %d", res.NewBalance)
		} else {
			b.WriteString("\n⚠️ 积分入账失败，请联系管理员")
		}
	case service.OutcomeCapReached:
		b.WriteString("🎯 命中奖励格，但今日转盘奖励已达上限")
	default:
		b.WriteString("😢 没中，明天再来吧")
	}
	return b.String()
}

// spinErrorMessage maps Spin errors to user replies.
func spinErrorMessage(err error, next time.Duration) string {
	switch {
	case errors.Is(err, service.ErrAlreadySpun):
		return fmt.Sprintf("⏰ 今天已经转过了，%s 后再来", formatCountdown(next))
	case errors.Is(err, service.ErrSpinNotRecorded):
		return "❌ 转盘结果未能记录，本次不计，请稍后重试"
	default:
		return "❌ 操作失败，请稍后重试"
	}
}

// formatLeaderboard renders the points leaderboard with online and verification badges.
func formatLeaderboard(entries []service.LeaderboardEntry) string {
	if len(entries) == 0 {
		return "📊 暂无排行数据"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏆 积分榜 TOP %d\n%s\n", len(entries), divider)

	medals := []string{"🥇", "🥈", "🥉"}
	for i, e := range entries {
		rank := fmt.Sprintf("%d.", e.Rank)
		if i < len(medals) {
			rank = medals[i]
		}
		badges := ""
		if e.Verified {
			badges += " ✅"
		}
		if e.Online {
			badges += " 🟢"
		}
		fmt.Fprintf(&b, "%s %s%s: %d\n", rank, e.User.DisplayName(), badges, e.User.Points)
	}
	b.WriteString(divider)
	return b.String()
}

// formatHistory renders ledger entries newest first.
func formatHistory(txs []*model.Transaction, loc *time.Location) string {
	if len(txs) == 0 {
		return "📜 暂无积分记录"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 最近 %d 条积分记录\n%s\n", len(txs), divider)
	for _, tx := range txs {
		sign := "+"
		if tx.Amount < 0 {
			sign = ""
		}
		fmt.Fprintf(&b, "%s %s%d %s\n", tx.CreatedAt.In(loc).Format("01-02 15:04"), sign, tx.Amount, txTypeLabel(tx.Type))
	}
	b.WriteString(divider)
	return b.String()
}

func txTypeLabel(txType string) string {
	switch txType {
	case model.TxTypeChatReward:
		return "聊天奖励"
	case model.TxTypeSpin:
		return "每日转盘"
	case model.TxTypeAdminAdd:
		return "管理员发放"
	default:
		return txType
	}
}

// formatPremiumStatus renders the user's membership and live accrual session.
func formatPremiumStatus(m *model.PremiumMembership, now time.Time, loc *time.Location, snap *service.SessionSnapshot) string {
	if m == nil {
		return "💎 你还不是高级会员\n高级会员在群里聊天每分钟可获得积分奖励"
	}

	var b strings.Builder
	b.WriteString("💎 高级会员\n" + divider + "\n")
	if m.ActiveAt(now) {
		fmt.Fprintf(&b, "状态: ✅ 有效\n到期: %s\n", m.ExpiresAt.In(loc).Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintf(&b, "状态: ❌ 已失效\n到期: %s\n", m.ExpiresAt.In(loc).Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "累计聊天奖励: %d 积分\n", m.TotalChatPointsEarned)
	if snap != nil {
		fmt.Fprintf(&b, "本次聊天: %d 分钟, +%d 积分\n", snap.ElapsedMinutes, snap.TotalPointsEarned)
	}
	b.WriteString(divider)
	return b.String()
}

// parseIDAndAmount parses "<user_id> <number>" command arguments.
func parseIDAndAmount(args []string, usage string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, errors.New(usage)
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || targetID == 0 {
		return 0, 0, errors.New("❌ 用户ID格式错误，请输入数字")
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, errors.New("❌ 数量格式错误，请输入数字")
	}
	return targetID, amount, nil
}

// parseID parses a single "<user_id>" argument.
func parseID(args []string, usage string) (int64, error) {
	if len(args) < 1 {
		return 0, errors.New(usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("❌ 用户ID格式错误，请输入数字")
	}
	return id, nil
}
